package model

import (
	"fmt"
	"strings"
)

// EntityType identifies a dashboard entity. The value doubles as the SQL table
// name of the entity's main row.
type EntityType string

const (
	EntityClient     EntityType = "client"
	EntityPreOrder   EntityType = "pre_order"
	EntityOrder      EntityType = "order"
	EntityPreInvoice EntityType = "pre_invoice"
	EntityInvoice    EntityType = "invoice"
)

// entityAliases maps the camel-case spellings used by older callers onto the
// canonical entity types.
var entityAliases = map[string]EntityType{
	"preOrder":   EntityPreOrder,
	"preInvoice": EntityPreInvoice,
	"pre-order":  EntityPreOrder,
	"pre-orders": EntityPreOrder,
	"clients":    EntityClient,
	"orders":     EntityOrder,
	"invoices":   EntityInvoice,
}

// ParseEntityType resolves a canonical name or a known alias. Unknown names
// are returned as-is with ok=false so callers can still treat them as
// entities without configuration.
func ParseEntityType(s string) (EntityType, bool) {
	switch EntityType(s) {
	case EntityClient, EntityPreOrder, EntityOrder, EntityPreInvoice, EntityInvoice:
		return EntityType(s), true
	}
	if et, ok := entityAliases[s]; ok {
		return et, true
	}
	return EntityType(s), false
}

func (e EntityType) String() string { return string(e) }

// Operation is a CRUD operation on an entity.
type Operation string

const (
	OpView   Operation = "view"
	OpEdit   Operation = "edit"
	OpDelete Operation = "delete"
	OpAdd    Operation = "add"
)

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(s)); op {
	case OpView, OpEdit, OpDelete, OpAdd:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Capability returns the capability string guarding op on entity, e.g.
// "client:delete".
func Capability(entity EntityType, op Operation) string {
	return string(entity) + ":" + string(op)
}

// ClientType is the coarse row discriminator shown in the type filter.
type ClientType string

const (
	ClientPersonal ClientType = "personal"
	ClientCompany  ClientType = "company"
)

// Fielder exposes named values of a row payload.
type Fielder interface {
	Field(key string) (any, bool)
}

// Record is a dynamically typed row payload as read from the store.
type Record map[string]any

// Field implements Fielder.
func (r Record) Field(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// String returns the value of key formatted as a string, or "" when absent.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Row unites a typed payload with its status and client type. Rows are
// replaced wholesale on every table refresh.
type Row[T any, S ~string] struct {
	ID     string     `json:"id"`
	Type   ClientType `json:"type"`
	Data   T          `json:"data"`
	Status S          `json:"status"`
}

// RecordRow is the row shape the store returns.
type RecordRow = Row[Record, string]

// FormData is submitted form input keyed by field name.
type FormData map[string]string

// Clone returns a copy of the form data.
func (f FormData) Clone() FormData {
	out := make(FormData, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Get returns the trimmed value of key.
func (f FormData) Get(key string) string {
	return strings.TrimSpace(f[key])
}
