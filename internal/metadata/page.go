package metadata

import (
	"fmt"
	"slices"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/table"
	"github.com/pitabwire/dastyar/model"
)

// TableProvider resolves entity definitions into TableDescriptors.
type TableProvider struct {
	registry *definition.Registry
	actions  *ActionProvider
	cfg      config.TableConfig
}

// NewTableProvider creates a TableProvider. cfg supplies the page size
// defaults.
func NewTableProvider(registry *definition.Registry, actions *ActionProvider, cfg config.TableConfig) *TableProvider {
	if len(cfg.PageSizes) == 0 {
		cfg.PageSizes = []int{5, 10, 15}
	}
	return &TableProvider{registry: registry, actions: actions, cfg: cfg}
}

// GetTable returns the table descriptor of an entity name or alias. Returns
// an error with code NOT_FOUND or FORBIDDEN.
func (p *TableProvider) GetTable(caps model.CapabilitySet, name string) (model.TableDescriptor, error) {
	def, ok := p.registry.Get(name)
	if !ok {
		return model.TableDescriptor{}, model.NewNotFoundError(fmt.Sprintf("entity %q not found", name))
	}
	if !caps.Has(model.Capability(def.Entity, model.OpView)) {
		return model.TableDescriptor{}, model.NewForbiddenError(
			fmt.Sprintf("insufficient capabilities for table %q", def.Entity),
		)
	}

	state := table.NewState(def, p.cfg)

	desc := model.TableDescriptor{
		Entity:                def.Entity,
		Title:                 def.Navigation.Label,
		Columns:               make([]model.ColumnDescriptor, 0, len(def.Columns)),
		InitialVisibleColumns: slices.Clone(def.InitialVisibleColumns),
		StatusOptions:         options(def.StatusOptions),
		TypeOptions:           options(def.TypeOptions),
		RowActions:            p.actions.RowActions(def, caps),
		AddAction:             p.actions.AddAction(def, caps),
		DataEndpoint:          fmt.Sprintf("%s/tables/%s/rows", p.actions.basePath, def.Entity),
		DefaultSort:           state.Sort.Column,
		SortDir:               string(state.Sort.Direction),
		PageSize:              state.RowsPerPage,
		PageSizes:             slices.Clone(p.cfg.PageSizes),
	}
	if desc.Title == "" {
		desc.Title = def.DisplayName
	}

	for _, c := range def.Columns {
		desc.Columns = append(desc.Columns, model.ColumnDescriptor{
			Field:    c.Field,
			Label:    c.Label,
			Kind:     c.Kind,
			Sortable: c.Sortable,
		})
	}
	return desc, nil
}

func options(static []model.StaticOption) []model.OptionDescriptor {
	out := make([]model.OptionDescriptor, len(static))
	for i, o := range static {
		out[i] = model.OptionDescriptor{Label: o.Label, Value: o.Value}
	}
	return out
}
