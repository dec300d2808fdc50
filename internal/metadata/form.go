package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/crud"
	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// FormProvider resolves add and edit forms and read-only views of one row.
type FormProvider struct {
	registry *definition.Registry
	records  store.Records
	options  crud.OptionSource
	actions  *ActionProvider
	logger   *zap.Logger
}

// NewFormProvider creates a FormProvider. options resolves select sources
// and may be nil when no form uses one.
func NewFormProvider(registry *definition.Registry, records store.Records, options crud.OptionSource, actions *ActionProvider, logger *zap.Logger) *FormProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormProvider{
		registry: registry,
		records:  records,
		options:  options,
		actions:  actions,
		logger:   logger,
	}
}

// GetForm resolves the add or edit form of an entity. An edit form is
// pre-filled from the stored row; values carries the in-progress input and
// wins over stored values. A select whose lookup fails renders without
// options. Returns an error with code NOT_FOUND, FORBIDDEN or BAD_REQUEST.
func (p *FormProvider) GetForm(
	ctx context.Context,
	caps model.CapabilitySet,
	name string,
	op model.Operation,
	id string,
	values model.FormData,
) (model.FormDescriptor, error) {
	def, err := p.entity(caps, name, op)
	if err != nil {
		return model.FormDescriptor{}, err
	}
	fields := def.FieldsFor(op)
	if len(fields) == 0 {
		return model.FormDescriptor{}, model.NewNotFoundError(
			fmt.Sprintf("entity %q has no %s form", def.Entity, op),
		)
	}

	desc := model.FormDescriptor{
		ID:        fmt.Sprintf("%s.%s", def.Entity, op),
		Entity:    def.Entity,
		Operation: op,
		Title:     crud.Title(op, def.DisplayName),
		Jobs:      def.Jobs.For(op),
	}

	current := model.FormData{}
	switch op {
	case model.OpAdd:
		desc.SubmitEndpoint = fmt.Sprintf("%s/entities/%s", p.actions.basePath, def.Entity)
		desc.SubmitMethod = http.MethodPost
	case model.OpEdit:
		if id == "" {
			return model.FormDescriptor{}, model.NewBadRequestError("edit form requires an id")
		}
		row, err := p.row(ctx, def, id)
		if err != nil {
			return model.FormDescriptor{}, err
		}
		current = storedValues(fields, row)
		desc.SubmitEndpoint = p.actions.EntityEndpoint(def.Entity, id)
		desc.SubmitMethod = http.MethodPut
	default:
		return model.FormDescriptor{}, model.NewBadRequestError(fmt.Sprintf("operation %q has no form", op))
	}
	for k, v := range values {
		current[k] = v
	}

	rendered, err := crud.Render(ctx, fields, current, p.options)
	if err != nil {
		if rendered == nil {
			return model.FormDescriptor{}, err
		}
		observability.RequestLogger(ctx, p.logger).Warn("form: option lookup failed",
			zap.String("entity", string(def.Entity)),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
	}
	desc.Fields = rendered
	return desc, nil
}

// GetView renders the read-only view of one row.
func (p *FormProvider) GetView(ctx context.Context, caps model.CapabilitySet, name, id string) (model.ViewDescriptor, error) {
	def, err := p.entity(caps, name, model.OpView)
	if err != nil {
		return model.ViewDescriptor{}, err
	}
	return p.view(ctx, def, model.OpView, def.ViewFields, id)
}

// GetDeleteView renders the summary shown in the delete dialog. It falls
// back to the view fields when the entity configures no delete display.
func (p *FormProvider) GetDeleteView(ctx context.Context, caps model.CapabilitySet, name, id string) (model.ViewDescriptor, error) {
	def, err := p.entity(caps, name, model.OpDelete)
	if err != nil {
		return model.ViewDescriptor{}, err
	}
	fields := def.DeleteDisplay
	if len(fields) == 0 {
		fields = def.ViewFields
	}
	return p.view(ctx, def, model.OpDelete, fields, id)
}

func (p *FormProvider) view(ctx context.Context, def model.EntityDefinition, op model.Operation, fields []model.ViewFieldConfig, id string) (model.ViewDescriptor, error) {
	row, err := p.row(ctx, def, id)
	if err != nil {
		return model.ViewDescriptor{}, err
	}

	desc := model.ViewDescriptor{
		Title:  crud.Title(op, def.DisplayName),
		ID:     row.ID,
		Status: row.Status,
		Fields: make([]model.ViewFieldValue, len(fields)),
	}
	for i, f := range fields {
		desc.Fields[i] = model.ViewFieldValue{
			Key:   f.Key,
			Label: f.Label,
			Value: FormatValue(def, f, row.Data[f.Key]),
		}
	}
	return desc, nil
}

func (p *FormProvider) entity(caps model.CapabilitySet, name string, op model.Operation) (model.EntityDefinition, error) {
	def, ok := p.registry.Get(name)
	if !ok {
		return model.EntityDefinition{}, model.NewNotFoundError(fmt.Sprintf("entity %q not found", name))
	}
	if !caps.Has(model.Capability(def.Entity, op)) {
		return model.EntityDefinition{}, model.NewForbiddenError(
			fmt.Sprintf("insufficient capabilities for %s", model.Capability(def.Entity, op)),
		)
	}
	return def, nil
}

func (p *FormProvider) row(ctx context.Context, def model.EntityDefinition, id string) (model.RecordRow, error) {
	row, err := p.records.Get(ctx, def.Entity, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.RecordRow{}, model.NewNotFoundError(fmt.Sprintf("%s یافت نشد.", def.DisplayName))
	}
	if err != nil {
		return model.RecordRow{}, fmt.Errorf("loading %s %s: %w", def.Entity, id, err)
	}
	return row, nil
}

// storedValues pre-fills an edit form from a stored row. An unset amount
// is left empty.
func storedValues(fields []model.FieldConfig, row model.RecordRow) model.FormData {
	values := make(model.FormData, len(fields))
	for _, f := range fields {
		name := f.Name()
		if n, ok := row.Data[f.Key].(float64); ok && n == store.UnsetAmount {
			continue
		}
		if v := row.Data.String(f.Key); v != "" {
			values[name] = v
		}
	}
	return values
}

// FormatValue renders one stored value for display according to its view
// kind.
func FormatValue(def model.EntityDefinition, f model.ViewFieldConfig, value any) string {
	if f.Unset != "" {
		if n, ok := persian.ToFloat(value); ok && n == store.UnsetAmount {
			return f.Unset
		}
	}
	switch f.Kind {
	case model.ViewNumber:
		return persian.Number(value)
	case model.ViewCurrency:
		return persian.Money(value)
	case model.ViewDate:
		return persian.Date(value)
	case model.ViewStatus:
		if s, ok := value.(string); ok && s != "" {
			return def.StatusLabel(s)
		}
		return persian.Text(value)
	}
	return persian.Truncate(persian.Text(value), f.Truncate)
}
