package table

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// Engine fetches the rows and the row count of one entity table.
type Engine struct {
	source        store.RowSource
	entity        model.EntityType
	searchColumns []string
	logger        *zap.Logger
	metrics       *observability.Metrics

	generation atomic.Uint64
}

// NewEngine creates an engine for the table of def.
func NewEngine(source store.RowSource, def model.EntityDefinition, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source:        source,
		entity:        def.Entity,
		searchColumns: append([]string(nil), def.SearchColumns...),
		logger:        logger,
		metrics:       metrics,
	}
}

// Start opens a new generation and fetches the count and the page of s
// concurrently. The returned channel yields Started followed by the two
// results in arrival order, then closes.
func (e *Engine) Start(ctx context.Context, s State) <-chan Event {
	gen := e.generation.Add(1)
	events := make(chan Event, 3)
	events <- Started{Generation: gen, Page: max(s.Page, 1), RowsPerPage: s.RowsPerPage}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := e.count(ctx, s)
		events <- CountLoaded{Result[int]{Generation: gen, Value: n, Err: err}}
	}()
	go func() {
		defer wg.Done()
		rows, err := e.rows(ctx, s)
		events <- RowsLoaded{Result[[]*model.RecordRow]{Generation: gen, Value: rows, Err: err}}
	}()
	go func() {
		wg.Wait()
		close(events)
	}()
	return events
}

// Refresh fetches the table for s and returns the reduced view, sorted by
// the state's sort descriptor.
func (e *Engine) Refresh(ctx context.Context, s State) View {
	var v View
	for ev := range e.Start(ctx, s) {
		v = Reduce(v, ev)
	}
	return Sorted(v, s.Sort)
}

func (e *Engine) count(ctx context.Context, s State) (n int, err error) {
	ctx, span := observability.StartSpan(ctx, "table.count", attribute.String("entity", string(e.entity)))
	defer func() { observability.EndSpanWithError(span, err) }()

	start := time.Now()
	n, err = e.source.CountRows(ctx, e.entity, s.Filter(e.searchColumns))
	e.metrics.RecordTableFetch(string(e.entity), "count", err == nil, time.Since(start))
	if err != nil {
		observability.RequestLogger(ctx, e.logger).Error("table count failed",
			zap.String("entity", string(e.entity)),
			zap.Error(err),
		)
	}
	return n, err
}

func (e *Engine) rows(ctx context.Context, s State) (rows []*model.RecordRow, err error) {
	ctx, span := observability.StartSpan(ctx, "table.rows",
		attribute.String("entity", string(e.entity)),
		attribute.Int("page", s.Page),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	start := time.Now()
	rows, err = e.source.ListRows(ctx, e.entity, s.Query(e.searchColumns))
	e.metrics.RecordTableFetch(string(e.entity), "rows", err == nil, time.Since(start))
	if err != nil {
		observability.RequestLogger(ctx, e.logger).Error("table rows failed",
			zap.String("entity", string(e.entity)),
			zap.Error(err),
		)
	}
	return rows, err
}
