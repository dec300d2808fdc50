package crud

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitabwire/dastyar/model"
)

// defaultTextareaRows is used when a textarea does not set its height.
const defaultTextareaRows = 3

// OptionSource resolves the named option source of a select widget. form
// carries the in-progress values so dependent dropdowns can narrow their
// options.
type OptionSource interface {
	Options(ctx context.Context, source string, form model.FormData) ([]model.OptionDescriptor, error)
}

// Render turns each field into its form control. Select options are static
// or resolved through options; a dependent select stays empty until the
// field it depends on has a value. Lookup failures leave the control
// without options and are returned joined.
func Render(ctx context.Context, fields []model.FieldConfig, values model.FormData, options OptionSource) ([]model.FieldDescriptor, error) {
	out := make([]model.FieldDescriptor, 0, len(fields))
	var errs []error
	for _, f := range fields {
		d := model.FieldDescriptor{
			Field:       f.Name(),
			Key:         f.Key,
			Label:       f.Label,
			Required:    f.Required,
			Placeholder: f.Placeholder,
			Value:       values[f.Name()],
		}

		switch w := f.Widget.(type) {
		case nil:
			d.Type = model.WidgetInput
		case model.InputWidget:
			d.Type = w.Kind()
			d.DigitAware = w.DigitAware
		case model.TextareaWidget:
			d.Type = w.Kind()
			d.Rows = w.Rows
			if d.Rows < 1 {
				d.Rows = defaultTextareaRows
			}
		case model.SelectWidget:
			d.Type = w.Kind()
			d.DependsOn = w.DependsOn
			opts, err := selectOptions(ctx, w, values, options)
			if err != nil {
				errs = append(errs, fmt.Errorf("field %q: %w", f.Key, err))
			}
			d.Options = opts
		case model.NumberWidget:
			d.Type = w.Kind()
			d.DigitAware = true
			d.Unit = w.Unit
		case model.DateWidget:
			d.Type = w.Kind()
		default:
			return nil, fmt.Errorf("field %q: unsupported widget %T", f.Key, w)
		}
		out = append(out, d)
	}
	return out, errors.Join(errs...)
}

func selectOptions(ctx context.Context, w model.SelectWidget, values model.FormData, options OptionSource) ([]model.OptionDescriptor, error) {
	if w.Source == "" {
		opts := make([]model.OptionDescriptor, len(w.Options))
		for i, o := range w.Options {
			opts[i] = model.OptionDescriptor{Label: o.Label, Value: o.Value}
		}
		return opts, nil
	}
	if w.DependsOn != "" && values.Get(w.DependsOn) == "" {
		return []model.OptionDescriptor{}, nil
	}
	if options == nil {
		return []model.OptionDescriptor{}, fmt.Errorf("no option source for %q", w.Source)
	}
	opts, err := options.Options(ctx, w.Source, values)
	if err != nil {
		return []model.OptionDescriptor{}, err
	}
	return opts, nil
}
