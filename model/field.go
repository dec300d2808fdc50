package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// WidgetKind is the tag of a Widget variant.
type WidgetKind string

const (
	WidgetInput    WidgetKind = "input"
	WidgetTextarea WidgetKind = "textarea"
	WidgetSelect   WidgetKind = "select"
	WidgetNumber   WidgetKind = "number"
	WidgetDate     WidgetKind = "date"
)

// Widget is the closed set of editor controls a field can render as. The
// unexported marker keeps the set closed to this package, so a type switch
// over the five variants is exhaustive.
type Widget interface {
	Kind() WidgetKind
	isWidget()
}

// InputWidget is a single-line text control.
type InputWidget struct {
	DigitAware bool `yaml:"digit_aware" json:"digit_aware,omitempty"`
}

// TextareaWidget is a multi-line text control.
type TextareaWidget struct {
	Rows int `yaml:"rows" json:"rows,omitempty"`
}

// SelectWidget is a dropdown. Options are either static or resolved from the
// named lookup Source; when DependsOn is set the lookup receives the current
// value of that field.
type SelectWidget struct {
	Options   []StaticOption `yaml:"options"    json:"options,omitempty"`
	Source    string         `yaml:"source"     json:"source,omitempty"`
	DependsOn string         `yaml:"depends_on" json:"depends_on,omitempty"`
}

// NumberWidget is a digit-aware numeric control whose value is normalized to
// ASCII digits before submission.
type NumberWidget struct {
	Unit string `yaml:"unit" json:"unit,omitempty"`
}

// DateWidget is a date picker.
type DateWidget struct{}

func (InputWidget) Kind() WidgetKind    { return WidgetInput }
func (TextareaWidget) Kind() WidgetKind { return WidgetTextarea }
func (SelectWidget) Kind() WidgetKind   { return WidgetSelect }
func (NumberWidget) Kind() WidgetKind   { return WidgetNumber }
func (DateWidget) Kind() WidgetKind     { return WidgetDate }

func (InputWidget) isWidget()    {}
func (TextareaWidget) isWidget() {}
func (SelectWidget) isWidget()   {}
func (NumberWidget) isWidget()   {}
func (DateWidget) isWidget()     {}

// StaticOption is a label/value pair for dropdowns and filters.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// FieldConfig describes one editable field of an add or edit form.
type FieldConfig struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Widget      Widget `json:"-"`
	Required    bool   `json:"required,omitempty"`
	Validation  string `json:"validation,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	FieldName   string `json:"field_name,omitempty"`
}

// Name is the form field name, which defaults to the key.
func (f FieldConfig) Name() string {
	if f.FieldName != "" {
		return f.FieldName
	}
	return f.Key
}

type rawFieldConfig struct {
	Key         string    `yaml:"key"`
	Label       string    `yaml:"label"`
	Widget      yaml.Node `yaml:"widget"`
	Required    bool      `yaml:"required"`
	Validation  string    `yaml:"validation"`
	Placeholder string    `yaml:"placeholder"`
	FieldName   string    `yaml:"field_name"`
}

// UnmarshalYAML decodes the widget block into its concrete variant. The
// widget may be written as a bare tag ("widget: textarea") or as a mapping
// with a "type" key and the variant's options.
func (f *FieldConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw rawFieldConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	w, err := decodeWidget(&raw.Widget)
	if err != nil {
		return fmt.Errorf("field %q: %w", raw.Key, err)
	}
	*f = FieldConfig{
		Key:         raw.Key,
		Label:       raw.Label,
		Widget:      w,
		Required:    raw.Required,
		Validation:  raw.Validation,
		Placeholder: raw.Placeholder,
		FieldName:   raw.FieldName,
	}
	return nil
}

func decodeWidget(node *yaml.Node) (Widget, error) {
	if node.Kind == 0 {
		return InputWidget{}, nil
	}
	if node.Kind == yaml.ScalarNode {
		return newWidget(WidgetKind(node.Value), nil)
	}
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return nil, err
	}
	return newWidget(WidgetKind(head.Type), node)
}

func newWidget(kind WidgetKind, node *yaml.Node) (Widget, error) {
	var w Widget
	switch kind {
	case WidgetInput:
		var v InputWidget
		if err := decodeInto(node, &v); err != nil {
			return nil, err
		}
		w = v
	case WidgetTextarea:
		var v TextareaWidget
		if err := decodeInto(node, &v); err != nil {
			return nil, err
		}
		w = v
	case WidgetSelect:
		var v SelectWidget
		if err := decodeInto(node, &v); err != nil {
			return nil, err
		}
		w = v
	case WidgetNumber:
		var v NumberWidget
		if err := decodeInto(node, &v); err != nil {
			return nil, err
		}
		w = v
	case WidgetDate:
		w = DateWidget{}
	default:
		return nil, fmt.Errorf("unknown widget type %q", kind)
	}
	return w, nil
}

func decodeInto(node *yaml.Node, target any) error {
	if node == nil {
		return nil
	}
	return node.Decode(target)
}

// ViewKind selects how a read-only value is formatted.
type ViewKind string

const (
	ViewText     ViewKind = "text"
	ViewNumber   ViewKind = "number"
	ViewDate     ViewKind = "date"
	ViewStatus   ViewKind = "status"
	ViewCurrency ViewKind = "currency"
)

// Valid reports whether k is a known view kind.
func (k ViewKind) Valid() bool {
	switch k {
	case ViewText, ViewNumber, ViewDate, ViewStatus, ViewCurrency:
		return true
	}
	return false
}

// ViewFieldConfig describes one read-only field of a view or delete dialog.
type ViewFieldConfig struct {
	Key      string   `yaml:"key"       json:"key"`
	Label    string   `yaml:"label"     json:"label"`
	Kind     ViewKind `yaml:"kind"      json:"kind"`
	Truncate int      `yaml:"truncate"  json:"truncate,omitempty"`
	// Unset is shown instead of the value when the raw value equals the
	// sentinel -1 (used for amounts that were never estimated).
	Unset string `yaml:"unset" json:"unset,omitempty"`
}

// DependencyConfig names a table whose Column references this entity's id.
// Message is shown when a referencing row exists.
type DependencyConfig struct {
	Table   string `yaml:"table"   json:"table"`
	Column  string `yaml:"column"  json:"column"`
	Message string `yaml:"message" json:"message"`
}

// CascadeRule names child rows deleted before the main row.
type CascadeRule struct {
	Table  string `yaml:"table"  json:"table"`
	Column string `yaml:"column" json:"column"`
}
