package definition

import (
	"fmt"
	"net/url"

	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks definitions structurally and across entities.
type Validator struct {
	sources map[string]bool
	tables  map[string]bool
}

// NewValidator creates a Validator. builtinSources are lookup sources served
// by code rather than declared in a definition (e.g. "clients"); extraTables
// are store tables without a definition of their own (e.g. "n8n_job").
func NewValidator(builtinSources []string, extraTables []string) *Validator {
	v := &Validator{sources: map[string]bool{}, tables: map[string]bool{}}
	for _, s := range builtinSources {
		v.sources[s] = true
	}
	for _, t := range extraTables {
		v.tables[t] = true
	}
	return v
}

// Validate checks all definitions and returns every problem found.
func (v *Validator) Validate(defs []model.EntityDefinition) []VError {
	var errs []VError

	tables := make(map[string]bool, len(v.tables)+len(defs))
	for t := range v.tables {
		tables[t] = true
	}
	sources := make(map[string]bool, len(v.sources))
	for s := range v.sources {
		sources[s] = true
	}
	for _, def := range defs {
		tables[def.Table] = true
		for _, l := range def.Lookups {
			sources[l.ID] = true
		}
	}

	seen := make(map[model.EntityType]string)
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if prev, dup := seen[def.Entity]; dup && def.Entity != "" {
			errs = append(errs, VError{
				Path:    prefix + ".entity",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("entity %q already defined in %s", def.Entity, prev),
			})
		}
		seen[def.Entity] = def.SourceFile
		errs = append(errs, v.validateEntity(prefix, def, tables, sources)...)
	}
	return errs
}

func (v *Validator) validateEntity(prefix string, def model.EntityDefinition, tables, sources map[string]bool) []VError {
	var errs []VError

	if def.Entity == "" {
		errs = append(errs, VError{Path: prefix + ".entity", Code: "REQUIRED", Message: "entity is required"})
	}
	if def.DisplayName == "" {
		errs = append(errs, VError{Path: prefix + ".display_name", Code: "REQUIRED", Message: "display_name is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if def.Navigation.Label == "" {
		errs = append(errs, VError{Path: prefix + ".navigation.label", Code: "REQUIRED", Message: "navigation.label is required"})
	}
	if len(def.Columns) == 0 {
		errs = append(errs, VError{Path: prefix + ".columns", Code: "REQUIRED", Message: "at least one column is required"})
	}

	columns := map[string]bool{"actions": true}
	for i, c := range def.Columns {
		cp := fmt.Sprintf("%s.columns[%d]", prefix, i)
		if c.Field == "" {
			errs = append(errs, VError{Path: cp + ".field", Code: "REQUIRED", Message: "field is required"})
		}
		if c.Kind != "" && !c.Kind.Valid() {
			errs = append(errs, VError{Path: cp + ".kind", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid kind %q", c.Kind)})
		}
		columns[c.Field] = true
	}
	for _, col := range def.InitialVisibleColumns {
		if !columns[col] {
			errs = append(errs, VError{
				Path:    prefix + ".initial_visible_columns",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("column %q not found", col),
			})
		}
	}
	if def.DefaultSort != "" && !columns[def.DefaultSort] {
		errs = append(errs, VError{
			Path:    prefix + ".default_sort",
			Code:    "REF_NOT_FOUND",
			Message: fmt.Sprintf("column %q not found", def.DefaultSort),
		})
	}

	statuses := make(map[string]bool, len(def.StatusOptions))
	for _, o := range def.StatusOptions {
		statuses[o.Value] = true
	}

	for i, f := range def.ViewFields {
		errs = append(errs, validateViewField(fmt.Sprintf("%s.view_fields[%d]", prefix, i), f)...)
	}
	for i, f := range def.DeleteDisplay {
		errs = append(errs, validateViewField(fmt.Sprintf("%s.delete_display[%d]", prefix, i), f)...)
	}
	for i, f := range def.EditFields {
		errs = append(errs, validateField(fmt.Sprintf("%s.edit_fields[%d]", prefix, i), f, sources)...)
	}
	for i, f := range def.AddFields {
		errs = append(errs, validateField(fmt.Sprintf("%s.add_fields[%d]", prefix, i), f, sources)...)
	}
	errs = append(errs, validateWidgetStability(prefix, def)...)

	for key, name := range def.Validation {
		if _, ok := persian.Lookup(name); !ok {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.validation.%s", prefix, key),
				Code:    "UNKNOWN_VALIDATOR",
				Message: fmt.Sprintf("validator %q is not registered", name),
			})
		}
	}

	for op, specs := range map[string][]model.JobSpec{
		"view": def.Jobs.View, "edit": def.Jobs.Edit, "delete": def.Jobs.Delete, "add": def.Jobs.Add,
	} {
		for i, s := range specs {
			jp := fmt.Sprintf("%s.jobs.%s[%d]", prefix, op, i)
			if s.Name == "" {
				errs = append(errs, VError{Path: jp + ".name", Code: "REQUIRED", Message: "name is required"})
			}
			if u, err := url.Parse(s.URL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, VError{Path: jp + ".url", Code: "INVALID_URL", Message: fmt.Sprintf("url %q must be absolute", s.URL)})
			}
		}
	}

	for i, d := range def.Dependencies {
		dp := fmt.Sprintf("%s.dependencies[%d]", prefix, i)
		if d.Table == "" || d.Column == "" || d.Message == "" {
			errs = append(errs, VError{Path: dp, Code: "REQUIRED", Message: "table, column and message are required"})
			continue
		}
		if !tables[d.Table] {
			errs = append(errs, VError{Path: dp + ".table", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("table %q is not known", d.Table)})
		}
	}
	for i, c := range def.Cascade {
		if !tables[c.Table] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.cascade[%d].table", prefix, i),
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("table %q is not known", c.Table),
			})
		}
	}

	if len(statuses) > 0 {
		for status := range def.StatusBans {
			if !statuses[status] {
				errs = append(errs, VError{
					Path:    prefix + ".status_bans",
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("status %q is not a status option", status),
				})
			}
		}
		for from, tos := range def.Transitions {
			for _, s := range append([]string{from}, tos...) {
				if !statuses[s] {
					errs = append(errs, VError{
						Path:    fmt.Sprintf("%s.transitions.%s", prefix, from),
						Code:    "REF_NOT_FOUND",
						Message: fmt.Sprintf("status %q is not a status option", s),
					})
				}
			}
		}
	}

	for i, l := range def.Lookups {
		lp := fmt.Sprintf("%s.lookups[%d]", prefix, i)
		if l.ID == "" {
			errs = append(errs, VError{Path: lp + ".id", Code: "REQUIRED", Message: "id is required"})
		}
		if l.Source == "" && len(l.Static) == 0 {
			errs = append(errs, VError{Path: lp, Code: "REQUIRED", Message: "either source or static options are required"})
		}
	}

	return errs
}

func validateViewField(prefix string, f model.ViewFieldConfig) []VError {
	var errs []VError
	if f.Key == "" {
		errs = append(errs, VError{Path: prefix + ".key", Code: "REQUIRED", Message: "key is required"})
	}
	if f.Kind != "" && !f.Kind.Valid() {
		errs = append(errs, VError{Path: prefix + ".kind", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid kind %q", f.Kind)})
	}
	return errs
}

func validateField(prefix string, f model.FieldConfig, sources map[string]bool) []VError {
	var errs []VError
	if f.Key == "" {
		errs = append(errs, VError{Path: prefix + ".key", Code: "REQUIRED", Message: "key is required"})
	}
	if f.Label == "" {
		errs = append(errs, VError{Path: prefix + ".label", Code: "REQUIRED", Message: "label is required"})
	}
	if f.Validation != "" {
		if _, ok := persian.Lookup(f.Validation); !ok {
			errs = append(errs, VError{
				Path:    prefix + ".validation",
				Code:    "UNKNOWN_VALIDATOR",
				Message: fmt.Sprintf("validator %q is not registered", f.Validation),
			})
		}
	}
	if sel, ok := f.Widget.(model.SelectWidget); ok {
		if sel.Source == "" && len(sel.Options) == 0 {
			errs = append(errs, VError{Path: prefix + ".widget", Code: "REQUIRED", Message: "select needs options or a source"})
		}
		if sel.Source != "" && !sources[sel.Source] {
			errs = append(errs, VError{
				Path:    prefix + ".widget.source",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("lookup %q not found", sel.Source),
			})
		}
	}
	return errs
}

// validateWidgetStability requires a key present in both forms to use the
// same widget kind.
func validateWidgetStability(prefix string, def model.EntityDefinition) []VError {
	var errs []VError
	edit := make(map[string]model.WidgetKind, len(def.EditFields))
	for _, f := range def.EditFields {
		if f.Widget != nil {
			edit[f.Key] = f.Widget.Kind()
		}
	}
	for i, f := range def.AddFields {
		if f.Widget == nil {
			continue
		}
		if k, ok := edit[f.Key]; ok && k != f.Widget.Kind() {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.add_fields[%d].widget", prefix, i),
				Code:    "WIDGET_MISMATCH",
				Message: fmt.Sprintf("field %q is %s in add but %s in edit", f.Key, f.Widget.Kind(), k),
			})
		}
	}
	return errs
}
