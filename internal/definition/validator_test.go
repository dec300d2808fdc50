package definition

import (
	"strings"
	"testing"

	"github.com/pitabwire/dastyar/model"
)

func validEntity() model.EntityDefinition {
	return model.EntityDefinition{
		Entity:      model.EntityPreOrder,
		DisplayName: "پیش سفارش",
		Version:     "1.0.0",
		Table:       "pre_order",
		Navigation:  model.NavigationDefinition{Label: "پیش سفارش‌ها", Order: 20},
		Columns: []model.ColumnDefinition{
			{Field: "client_name", Label: "نام مشتری", Sortable: true},
			{Field: "status", Label: "وضعیت", Kind: model.ViewStatus},
		},
		InitialVisibleColumns: []string{"client_name", "status", "actions"},
		DefaultSort:           "client_name",
		StatusOptions: []model.StaticOption{
			{Label: "در انتظار بررسی", Value: "pending"},
			{Label: "تایید شده", Value: "approved"},
			{Label: "تبدیل به سفارش", Value: "converted"},
		},
		EditFields: []model.FieldConfig{
			{Key: "description", Label: "شرح", Widget: model.TextareaWidget{Rows: 4}, Required: true, Validation: "persian_text"},
		},
		AddFields: []model.FieldConfig{
			{Key: "client_id", Label: "مشتری", Widget: model.SelectWidget{Source: "clients"}, Required: true},
			{Key: "description", Label: "شرح", Widget: model.TextareaWidget{}, Required: true},
		},
		Validation: map[string]string{"description": "persianText"},
		Jobs: model.EntityJobConfig{
			Edit: []model.JobSpec{{Name: "ویرایش پیش سفارش", URL: "https://example.com/preorder/update"}},
		},
		Dependencies: []model.DependencyConfig{
			{Table: "order", Column: "pre_order_id", Message: "قابل حذف نیست."},
		},
		StatusBans:  map[string]string{"converted": "پیش سفارش تبدیل شده قابل حذف نیست."},
		Transitions: map[string][]string{"pending": {"approved"}, "approved": {"converted"}},
	}
}

func newTestValidator() *Validator {
	return NewValidator([]string{"clients"}, []string{"order"})
}

func hasCode(errs []VError, code, pathSuffix string) bool {
	for _, e := range errs {
		if e.Code == code && strings.HasSuffix(e.Path, pathSuffix) {
			return true
		}
	}
	return false
}

func TestValidator_valid(t *testing.T) {
	errs := newTestValidator().Validate([]model.EntityDefinition{validEntity()})
	if len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidator_required_fields(t *testing.T) {
	def := validEntity()
	def.Entity = ""
	def.DisplayName = ""
	def.Version = ""
	def.Navigation.Label = ""
	def.Columns = nil
	def.InitialVisibleColumns = nil
	def.DefaultSort = ""

	errs := newTestValidator().Validate([]model.EntityDefinition{def})
	for _, path := range []string{".entity", ".display_name", ".version", ".navigation.label", ".columns"} {
		if !hasCode(errs, "REQUIRED", path) {
			t.Errorf("missing REQUIRED error for %s in %v", path, errs)
		}
	}
}

func TestValidator_unknown_column_refs(t *testing.T) {
	def := validEntity()
	def.InitialVisibleColumns = []string{"nope"}
	def.DefaultSort = "missing"

	errs := newTestValidator().Validate([]model.EntityDefinition{def})
	if !hasCode(errs, "REF_NOT_FOUND", ".initial_visible_columns") {
		t.Errorf("expected initial_visible_columns error, got %v", errs)
	}
	if !hasCode(errs, "REF_NOT_FOUND", ".default_sort") {
		t.Errorf("expected default_sort error, got %v", errs)
	}
}

func TestValidator_unknown_validator(t *testing.T) {
	def := validEntity()
	def.EditFields[0].Validation = "uppercase"
	def.Validation["description"] = "lowercase"

	errs := newTestValidator().Validate([]model.EntityDefinition{def})
	if !hasCode(errs, "UNKNOWN_VALIDATOR", ".edit_fields[0].validation") {
		t.Errorf("expected field validator error, got %v", errs)
	}
	if !hasCode(errs, "UNKNOWN_VALIDATOR", ".validation.description") {
		t.Errorf("expected entity validator error, got %v", errs)
	}
}

func TestValidator_widget_stability(t *testing.T) {
	def := validEntity()
	def.AddFields[1].Widget = model.InputWidget{}

	errs := newTestValidator().Validate([]model.EntityDefinition{def})
	if !hasCode(errs, "WIDGET_MISMATCH", ".add_fields[1].widget") {
		t.Errorf("expected WIDGET_MISMATCH, got %v", errs)
	}
}

func TestValidator_unknown_lookup_source(t *testing.T) {
	def := validEntity()
	def.AddFields[0].Widget = model.SelectWidget{Source: "suppliers"}

	errs := newTestValidator().Validate([]model.EntityDefinition{def})
	if !hasCode(errs, "REF_NOT_FOUND", ".widget.source") {
		t.Errorf("expected source error, got %v", errs)
	}
}

func TestValidator_dependencies_and_jobs(t *testing.T) {
	def := validEntity()
	def.Dependencies = append(def.Dependencies,
		model.DependencyConfig{Table: "shipment", Column: "pre_order_id", Message: "x"},
		model.DependencyConfig{Table: "order"},
	)
	def.Jobs.Edit = append(def.Jobs.Edit, model.JobSpec{Name: "", URL: "not a url"})

	errs := newTestValidator().Validate([]model.EntityDefinition{def})
	if !hasCode(errs, "REF_NOT_FOUND", ".dependencies[1].table") {
		t.Errorf("expected unknown table error, got %v", errs)
	}
	if !hasCode(errs, "REQUIRED", ".dependencies[2]") {
		t.Errorf("expected incomplete dependency error, got %v", errs)
	}
	if !hasCode(errs, "REQUIRED", ".jobs.edit[1].name") {
		t.Errorf("expected job name error, got %v", errs)
	}
	if !hasCode(errs, "INVALID_URL", ".jobs.edit[1].url") {
		t.Errorf("expected job url error, got %v", errs)
	}
}

func TestValidator_status_references(t *testing.T) {
	def := validEntity()
	def.StatusBans["archived"] = "x"
	def.Transitions["pending"] = []string{"shipped"}

	errs := newTestValidator().Validate([]model.EntityDefinition{def})
	if !hasCode(errs, "REF_NOT_FOUND", ".status_bans") {
		t.Errorf("expected status ban error, got %v", errs)
	}
	if !hasCode(errs, "REF_NOT_FOUND", ".transitions.pending") {
		t.Errorf("expected transition error, got %v", errs)
	}
}

func TestValidator_duplicate_entity(t *testing.T) {
	a, b := validEntity(), validEntity()
	a.SourceFile = "a.yaml"
	errs := newTestValidator().Validate([]model.EntityDefinition{a, b})
	if !hasCode(errs, "DUPLICATE", "definitions[1].entity") {
		t.Errorf("expected DUPLICATE, got %v", errs)
	}
}

func TestVError_Error(t *testing.T) {
	e := VError{Path: "definitions[0].entity", Code: "REQUIRED", Message: "entity is required"}
	if got := e.Error(); got != "definitions[0].entity: entity is required" {
		t.Errorf("Error() = %q", got)
	}
}
