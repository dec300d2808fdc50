// Package metadata turns entity definitions into the descriptors the
// dashboard renders: navigation, tables, forms, views and actions.
package metadata

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// MenuProvider builds a NavigationTree from definitions filtered by
// capabilities.
type MenuProvider struct {
	registry *definition.Registry
	rows     store.RowSource
	logger   *zap.Logger
}

// NewMenuProvider creates a MenuProvider. rows is used for badge counts and
// may be nil when badges are not needed.
func NewMenuProvider(registry *definition.Registry, rows store.RowSource, logger *zap.Logger) *MenuProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MenuProvider{registry: registry, rows: rows, logger: logger}
}

// GetMenu builds the navigation tree, ordered by each entry's order. An
// entry without capabilities requires the entity's view capability. Badge
// counts are resolved concurrently on a best-effort basis: failures are
// logged and the badge omitted.
func (p *MenuProvider) GetMenu(ctx context.Context, caps model.CapabilitySet) (model.NavigationTree, error) {
	var defs []model.EntityDefinition
	for _, def := range p.registry.All() {
		required := def.Navigation.Capabilities
		if len(required) == 0 {
			required = []string{model.Capability(def.Entity, model.OpView)}
		}
		if !caps.HasAll(required...) {
			continue
		}
		defs = append(defs, def)
	}

	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].Navigation.Order < defs[j].Navigation.Order
	})

	nodes := make([]model.NavigationNode, len(defs))
	for i, def := range defs {
		label := def.Navigation.Label
		if label == "" {
			label = def.DisplayName
		}
		nodes[i] = model.NavigationNode{
			ID:    string(def.Entity),
			Label: label,
			Icon:  def.Navigation.Icon,
			Route: def.Navigation.Route,
		}
	}

	p.resolveBadges(ctx, defs, nodes)
	return model.NavigationTree{Items: nodes}, nil
}

func (p *MenuProvider) resolveBadges(ctx context.Context, defs []model.EntityDefinition, nodes []model.NavigationNode) {
	if p.rows == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, def := range defs {
		if len(def.Navigation.Badge) == 0 {
			continue
		}
		g.Go(func() error {
			count, err := p.rows.CountRows(gctx, def.Entity, store.Filter{Statuses: def.Navigation.Badge})
			if err != nil {
				observability.RequestLogger(ctx, p.logger).Debug("menu: badge resolution failed",
					zap.String("entity", string(def.Entity)),
					zap.Error(err),
				)
				return nil
			}
			if count <= 0 {
				return nil
			}
			nodes[i].Badge = &model.BadgeDescriptor{Count: count}
			return nil
		})
	}
	_ = g.Wait()
}
