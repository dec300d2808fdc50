package openapi

import (
	"encoding/json"
	"net/http"
	"slices"
	"testing"

	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/model"
)

func testDefs(t *testing.T) []model.EntityDefinition {
	t.Helper()
	defs, err := definition.NewLoader().LoadAll([]string{"../../definitions"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	return defs
}

func TestBuild_validates(t *testing.T) {
	doc, err := Build(testDefs(t), "test")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if doc.Info.Version != "test" {
		t.Errorf("version = %q", doc.Info.Version)
	}
	if _, err := json.Marshal(doc); err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
}

func TestBuild_entity_operations(t *testing.T) {
	doc, err := Build(testDefs(t), "test")
	if err != nil {
		t.Fatal(err)
	}
	ids := OperationIDs(doc)

	for _, want := range []string{
		"auth.login", "auth.logout", "navigation", "lookups.get", "search", "jobs.callback",
		"client.table", "client.rows", "client.add", "client.edit", "client.view",
		"client.delete", "client.dependencies", "client.jobs", "client.jobs.stream",
		"pre_order.add", "order.add", "pre_invoice.edit",
	} {
		if !slices.Contains(ids, want) {
			t.Errorf("operation %q missing", want)
		}
	}
	if slices.Contains(ids, "invoice.add") {
		t.Error("invoice has no add fields and must not document an add operation")
	}
}

func TestBuild_add_body_lists_required_fields(t *testing.T) {
	doc, err := Build(testDefs(t), "test")
	if err != nil {
		t.Fatal(err)
	}

	path, method, op, ok := Operation(doc, "client.add")
	if !ok {
		t.Fatal("client.add not found")
	}
	if path != "/api/v1/entities/client" || method != http.MethodPost {
		t.Errorf("client.add = %s %s", method, path)
	}

	schema := op.RequestBody.Value.Content.Get("application/json").Schema.Value
	for _, name := range []string{"name", "phone"} {
		if !slices.Contains(schema.Required, name) {
			t.Errorf("required = %v, want %q", schema.Required, name)
		}
	}
	if _, ok := schema.Properties["address"]; !ok {
		t.Error("optional field address missing from the body schema")
	}
}

func TestBuild_public_operations_skip_auth(t *testing.T) {
	doc, err := Build(testDefs(t), "test")
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"auth.login", "jobs.callback"} {
		_, _, op, ok := Operation(doc, id)
		if !ok {
			t.Fatalf("%s not found", id)
		}
		if op.Security == nil || len(*op.Security) != 0 {
			t.Errorf("%s security = %v, want empty override", id, op.Security)
		}
	}
	if len(doc.Security) != 1 {
		t.Errorf("document security = %v", doc.Security)
	}
}

func TestBuild_no_definitions(t *testing.T) {
	doc, err := Build(nil, "test")
	if err != nil {
		t.Fatalf("Build(nil) error = %v", err)
	}
	if got := len(OperationIDs(doc)); got != 5 {
		t.Errorf("operations = %d, want 5", got)
	}
}

func TestOperation_unknown(t *testing.T) {
	doc, _ := Build(nil, "test")
	if _, _, _, ok := Operation(doc, "nope"); ok {
		t.Error("Operation(nope) ok = true")
	}
}
