package metadata

import (
	"context"
	"testing"

	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

func testRegistry(t *testing.T) *definition.Registry {
	t.Helper()
	defs, err := definition.NewLoader().LoadAll([]string{"../../definitions"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	return definition.NewRegistry(defs)
}

func testDef(t *testing.T, et model.EntityType) model.EntityDefinition {
	t.Helper()
	def, ok := testRegistry(t).Entity(et)
	if !ok {
		t.Fatalf("definition %q not loaded", et)
	}
	return def
}

func allCaps() model.CapabilitySet {
	return model.CapabilitySet{"*": true}
}

func viewOnly() model.CapabilitySet {
	return model.CapabilitySet{
		"client:view":      true,
		"pre_order:view":   true,
		"order:view":       true,
		"pre_invoice:view": true,
		"invoice:view":     true,
	}
}

func insert(t *testing.T, st *store.MemoryStore, table string, values map[string]any) string {
	t.Helper()
	id, err := st.Insert(context.Background(), table, values)
	if err != nil {
		t.Fatalf("Insert(%s) error = %v", table, err)
	}
	return id
}
