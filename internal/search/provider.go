// Package search answers the dashboard's global search box by querying the
// rows of every entity the operator may view and merging the hits.
package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

const (
	minQueryLength  = 2
	defaultPageSize = 20
	maxPageSize     = 50
)

// Entity outcome reported in the response meta.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// Entities lists the loaded entity definitions.
type Entities interface {
	All() []model.EntityDefinition
}

// Pagination selects a page of merged results. Entity, when set, restricts
// the search to one entity.
type Pagination struct {
	Page     int
	PageSize int
	Entity   string
}

// Provider runs one search per eligible entity in parallel.
type Provider struct {
	entities   Entities
	rows       store.RowSource
	timeout    time.Duration
	maxResults int
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewProvider creates a Provider. logger and metrics may be nil.
func NewProvider(entities Entities, rows store.RowSource, cfg config.SearchConfig, logger *zap.Logger, metrics *observability.Metrics) *Provider {
	if cfg.TimeoutPerEntity <= 0 {
		cfg.TimeoutPerEntity = 2 * time.Second
	}
	if cfg.MaxResultsPerEntity <= 0 {
		cfg.MaxResultsPerEntity = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		entities:   entities,
		rows:       rows,
		timeout:    cfg.TimeoutPerEntity,
		maxResults: cfg.MaxResultsPerEntity,
		logger:     logger,
		metrics:    metrics,
	}
}

type entityResult struct {
	entity  model.EntityType
	results []model.SearchResult
	status  string
}

// Search matches query against the search columns of every entity the
// operator can view. An entity that fails or times out is reported in the
// meta and contributes no results.
func (p *Provider) Search(ctx context.Context, caps model.CapabilitySet, query string, page Pagination) (model.SearchResponse, error) {
	query = strings.TrimSpace(persian.ToEnglishDigits(query))
	if utf8.RuneCountInString(query) < minQueryLength {
		return model.SearchResponse{}, model.NewBadRequestError("عبارت جستجو باید حداقل ۲ حرف باشد.")
	}

	if page.PageSize <= 0 {
		page.PageSize = defaultPageSize
	}
	if page.PageSize > maxPageSize {
		page.PageSize = maxPageSize
	}
	if page.Page <= 0 {
		page.Page = 1
	}

	var eligible []model.EntityDefinition
	for _, def := range p.entities.All() {
		if page.Entity != "" && string(def.Entity) != page.Entity {
			continue
		}
		if len(def.SearchColumns) == 0 || !caps.Has(model.Capability(def.Entity, model.OpView)) {
			continue
		}
		eligible = append(eligible, def)
	}

	ctx, span := observability.StartSpan(ctx, "search.Search", attribute.Int("search.entities", len(eligible)))
	defer span.End()

	start := time.Now()
	outcomes := p.searchAll(ctx, eligible, query)

	var merged []model.SearchResult
	statuses := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		statuses[string(o.entity)] = o.status
		merged = append(merged, o.results...)
	}
	merged = deduplicate(merged)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return persian.Compare(merged[i].Title, merged[j].Title) < 0
	})

	total := len(merged)
	offset := (page.Page - 1) * page.PageSize
	if offset >= total {
		merged = []model.SearchResult{}
	} else {
		merged = merged[offset:min(offset+page.PageSize, total)]
	}

	return model.SearchResponse{
		Data: model.SearchPayload{
			Results:    merged,
			TotalCount: total,
			Page:       page.Page,
			PageSize:   page.PageSize,
			Query:      query,
		},
		Meta: map[string]any{
			"entities":      statuses,
			"query_time_ms": time.Since(start).Milliseconds(),
		},
	}, nil
}

// searchAll queries every definition concurrently. Each goroutine owns one
// slot of the returned slice.
func (p *Provider) searchAll(ctx context.Context, defs []model.EntityDefinition, query string) []entityResult {
	out := make([]entityResult, len(defs))
	var g errgroup.Group
	for i, def := range defs {
		g.Go(func() error {
			out[i] = p.searchEntity(ctx, def, query)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Provider) searchEntity(ctx context.Context, def model.EntityDefinition, query string) entityResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := p.rows.ListRows(ctx, def.Entity, store.Query{
		Filter: store.Filter{Search: query, SearchColumns: def.SearchColumns},
		Limit:  p.maxResults,
	})
	if err != nil {
		status := StatusError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = StatusTimeout
		}
		p.metrics.RecordSearchEntity(string(def.Entity), status)
		p.logger.Warn("entity search failed",
			zap.String("entity", string(def.Entity)),
			zap.String("status", status),
			zap.Error(err),
		)
		return entityResult{entity: def.Entity, status: status}
	}
	p.metrics.RecordSearchEntity(string(def.Entity), StatusOK)
	return entityResult{entity: def.Entity, results: mapRows(def, rows, query), status: StatusOK}
}

// mapRows turns matched rows into scored results. Rows keep the store's
// order: the first scores 1.0 and the last 0.5. A title that starts with the
// query doubles the score.
func mapRows(def model.EntityDefinition, rows []*model.RecordRow, query string) []model.SearchResult {
	total := len(rows)
	needle := strings.ToLower(query)
	results := make([]model.SearchResult, 0, total)
	for i, row := range rows {
		if row == nil {
			continue
		}
		position := 1.0
		if total > 1 {
			position = 1.0 - float64(i)/float64(total)*0.5
		}
		title := titleOf(def, row)
		weight := 1.0
		if strings.HasPrefix(strings.ToLower(title), needle) {
			weight = 2
		}
		results = append(results, model.SearchResult{
			ID:       row.ID,
			Entity:   def.Entity,
			Title:    title,
			Subtitle: def.StatusLabel(row.Status),
			Category: def.DisplayName,
			Icon:     def.Navigation.Icon,
			Route:    def.Navigation.Route + "?view=" + row.ID,
			Score:    weight * position,
		})
	}
	return results
}

// titleOf returns the first non-empty search column of row, or its id.
func titleOf(def model.EntityDefinition, row *model.RecordRow) string {
	for _, col := range def.SearchColumns {
		if v := strings.TrimSpace(row.Data.String(col)); v != "" {
			return v
		}
	}
	return row.ID
}

// deduplicate keeps the highest scoring result per route.
func deduplicate(results []model.SearchResult) []model.SearchResult {
	seen := make(map[string]int, len(results))
	out := make([]model.SearchResult, 0, len(results))
	for _, r := range results {
		if idx, ok := seen[r.Route]; ok {
			if r.Score > out[idx].Score {
				out[idx] = r
			}
			continue
		}
		seen[r.Route] = len(out)
		out = append(out, r)
	}
	return out
}
