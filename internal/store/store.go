// Package store is the data access layer of the dashboard. Every component
// receives the narrow interface it needs; PGStore and MemoryStore implement
// all of them.
package store

import (
	"context"
	_ "embed"
	"errors"
	"slices"
	"time"

	"github.com/pitabwire/dastyar/model"
)

// Schema is the PostgreSQL DDL applied by the migrate command.
//
//go:embed schema.sql
var Schema string

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrUnknownTable is returned for a table outside the schema.
	ErrUnknownTable = errors.New("store: unknown table")
)

// Table names of the schema.
const (
	TablePerson     = "person"
	TableCompany    = "company"
	TableClient     = "client"
	TablePreOrder   = "pre_order"
	TableOrder      = "order"
	TablePreInvoice = "pre_invoice"
	TableInvoice    = "invoice"
	TableJob        = "n8n_job"
	TableOperator   = "operator"
)

// Tables lists every table of the schema.
var Tables = []string{
	TablePerson, TableCompany, TableClient, TablePreOrder, TableOrder,
	TablePreInvoice, TableInvoice, TableJob, TableOperator,
}

func knownTable(table string) bool { return slices.Contains(Tables, table) }

// Filter narrows a table fetch. A nil or ["all"] list does not filter.
type Filter struct {
	Types    []string
	Statuses []string
	Search   string
	// SearchColumns are the row fields matched case-insensitively against
	// Search.
	SearchColumns []string
}

// Query is a paginated table fetch.
type Query struct {
	Filter
	Offset int
	Limit  int
}

// RowSource serves table rows for every entity.
type RowSource interface {
	ListRows(ctx context.Context, et model.EntityType, q Query) ([]*model.RecordRow, error)
	CountRows(ctx context.Context, et model.EntityType, f Filter) (int, error)
}

// Records covers reads and writes of entity rows that need no bespoke
// write path. Column names come from definitions.
type Records interface {
	// Get returns the projected row of an entity, as listed in tables.
	Get(ctx context.Context, et model.EntityType, id string) (model.RecordRow, error)
	Insert(ctx context.Context, table string, values map[string]any) (string, error)
	Update(ctx context.Context, table, id string, values map[string]any) error
}

// Party is the contact record behind a client: a person or a company.
type Party struct {
	Name       string
	SSN        string
	Phone      string
	Address    string
	PostalCode string
	County     string
	Town       string
}

// NewClient is the insert payload of a client row.
type NewClient struct {
	PersonID  string
	CompanyID string
	Type      model.ClientType
	Status    string
}

// ClientName is one entry of the client selector.
type ClientName struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Type model.ClientType `json:"type"`
}

// Clients covers the client write path, which spans person, company and
// client rows.
type Clients interface {
	CreatePerson(ctx context.Context, p Party) (string, error)
	CreateCompany(ctx context.Context, p Party) (string, error)
	CreateClient(ctx context.Context, c NewClient) (string, error)
	// UpdateClient rewrites the party behind the client and, when status is
	// not empty, the client status.
	UpdateClient(ctx context.Context, id string, p Party, status string) error
	ClientNames(ctx context.Context) ([]ClientName, error)
}

// Probe answers the dependency checker.
type Probe interface {
	Exists(ctx context.Context, table, column, value string) (bool, error)
	DeleteWhere(ctx context.Context, table, column, value string) (int64, error)
	DeleteByID(ctx context.Context, table, id string) error
}

// Jobs persists webhook jobs.
type Jobs interface {
	InsertJob(ctx context.Context, j model.NewJob) (model.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) (model.Job, error)
	ListJobs(ctx context.Context, et model.EntityType, entityID string) ([]model.Job, error)
}

// Operator is a dashboard account.
type Operator struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// Operators persists dashboard accounts.
type Operators interface {
	CreateOperator(ctx context.Context, op Operator) (Operator, error)
	OperatorByEmail(ctx context.Context, email string) (Operator, error)
}

// Store is the full data store.
type Store interface {
	RowSource
	Records
	Clients
	Probe
	Jobs
	Operators
	Ping(ctx context.Context) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PGStore)(nil)
)

// active returns the filter values, or nil when the list does not filter.
func active(values []string) []string {
	if len(values) == 0 || slices.Contains(values, "all") {
		return nil
	}
	return values
}

// OrderName is the display name of an order row.
func OrderName(number string) string { return "سفارش " + number }

// UnknownClient is shown when an order's client cannot be resolved.
const UnknownClient = "نامشخص"

// UnsetAmount marks an amount that was never estimated.
const UnsetAmount = -1.0
