package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/dastyar/model"
)

func seedClients(t *testing.T, s *MemoryStore) (personal, company string) {
	t.Helper()
	ctx := context.Background()

	pid, err := s.CreatePerson(ctx, Party{Name: "علی رضایی", Phone: "09121234567", SSN: "0499370899"})
	require.NoError(t, err)
	personal, err = s.CreateClient(ctx, NewClient{PersonID: pid, Type: model.ClientPersonal, Status: "not_started"})
	require.NoError(t, err)

	pid2, err := s.CreatePerson(ctx, Party{Name: "سارا احمدی"})
	require.NoError(t, err)
	cid, err := s.CreateCompany(ctx, Party{Name: "شرکت پارس", Phone: "02188776655"})
	require.NoError(t, err)
	company, err = s.CreateClient(ctx, NewClient{PersonID: pid2, CompanyID: cid, Type: model.ClientCompany, Status: "done"})
	require.NoError(t, err)
	return personal, company
}

func TestMemoryStore_client_projection(t *testing.T) {
	s := NewMemoryStore()
	personal, company := seedClients(t, s)
	ctx := context.Background()

	row, err := s.Get(ctx, model.EntityClient, personal)
	require.NoError(t, err)
	assert.Equal(t, "علی رضایی", row.Data.String("name"))
	assert.Equal(t, model.ClientPersonal, row.Type)
	assert.Equal(t, "not_started", row.Status)

	row, err = s.Get(ctx, model.EntityClient, company)
	require.NoError(t, err)
	assert.Equal(t, "شرکت پارس", row.Data.String("name"), "company name wins over the person")
	assert.Equal(t, model.ClientCompany, row.Type)

	_, err = s.Get(ctx, model.EntityClient, "999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListRows_filters_and_pagination(t *testing.T) {
	s := NewMemoryStore()
	seedClients(t, s)
	ctx := context.Background()

	rows, err := s.ListRows(ctx, model.EntityClient, Query{Filter: Filter{Types: []string{"all"}}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "شرکت پارس", rows[0].Data.String("name"), "newest first")

	rows, err = s.ListRows(ctx, model.EntityClient, Query{Filter: Filter{Types: []string{"personal"}}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "علی رضایی", rows[0].Data.String("name"))

	rows, err = s.ListRows(ctx, model.EntityClient, Query{Filter: Filter{Statuses: []string{"done"}}})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = s.ListRows(ctx, model.EntityClient, Query{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "علی رضایی", rows[0].Data.String("name"))

	rows, err = s.ListRows(ctx, model.EntityClient, Query{Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)

	n, err := s.CountRows(ctx, model.EntityClient, Filter{Statuses: []string{"all"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStore_search(t *testing.T) {
	s := NewMemoryStore()
	seedClients(t, s)
	ctx := context.Background()

	f := Filter{Search: "پارس", SearchColumns: []string{"name", "phone"}}
	rows, err := s.ListRows(ctx, model.EntityClient, Query{Filter: f})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "شرکت پارس", rows[0].Data.String("name"))

	n, err := s.CountRows(ctx, model.EntityClient, Filter{Search: "0912", SearchColumns: []string{"phone"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountRows(ctx, model.EntityClient, Filter{Search: "0912", SearchColumns: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryStore_orphan_client_skipped(t *testing.T) {
	s := NewMemoryStore()
	personal, _ := seedClients(t, s)
	ctx := context.Background()

	row, err := s.Get(ctx, model.EntityClient, personal)
	require.NoError(t, err)
	require.NoError(t, s.DeleteByID(ctx, TablePerson, row.Data.String("person_id")))

	rows, err := s.ListRows(ctx, model.EntityClient, Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0])
	assert.NotEqual(t, personal, rows[0].ID)

	n, err := s.CountRows(ctx, model.EntityClient, Filter{})
	require.NoError(t, err)
	assert.Equal(t, len(rows), n, "list and count agree")

	page, err := s.ListRows(ctx, model.EntityClient, Query{Offset: 1, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, page, "an orphan does not take a slot on a later page")

	names, err := s.ClientNames(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "شرکت پارس", names[0].Name)
}

func TestMemoryStore_pre_order_unset_amount(t *testing.T) {
	s := NewMemoryStore()
	personal, _ := seedClients(t, s)
	ctx := context.Background()

	id, err := s.Insert(ctx, TablePreOrder, map[string]any{
		"client_id":        personal,
		"client_name":      "علی رضایی",
		"type":             "personal",
		"description":      "نصب تجهیزات",
		"estimated_amount": nil,
		"status":           "pending",
	})
	require.NoError(t, err)

	row, err := s.Get(ctx, model.EntityPreOrder, id)
	require.NoError(t, err)
	assert.Equal(t, UnsetAmount, row.Data["estimated_amount"])
	assert.Equal(t, model.ClientPersonal, row.Type)

	require.NoError(t, s.Update(ctx, TablePreOrder, id, map[string]any{"estimated_amount": 2500000.0, "status": "approved"}))
	row, err = s.Get(ctx, model.EntityPreOrder, id)
	require.NoError(t, err)
	assert.Equal(t, 2500000.0, row.Data["estimated_amount"])
	assert.Equal(t, "approved", row.Status)

	assert.ErrorIs(t, s.Update(ctx, TablePreOrder, "42", map[string]any{"status": "x"}), ErrNotFound)
	_, err = s.Insert(ctx, "shipment", nil)
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestMemoryStore_order_projection(t *testing.T) {
	s := NewMemoryStore()
	_, company := seedClients(t, s)
	ctx := context.Background()

	id, err := s.Insert(ctx, TableOrder, map[string]any{"client_id": company, "total_amount": 100.0, "status": "pending"})
	require.NoError(t, err)
	orphan, err := s.Insert(ctx, TableOrder, map[string]any{"client_id": "77", "status": "pending"})
	require.NoError(t, err)

	row, err := s.Get(ctx, model.EntityOrder, id)
	require.NoError(t, err)
	assert.Equal(t, "سفارش 1000", row.Data.String("name"))
	assert.Equal(t, "شرکت پارس", row.Data.String("client_name"))
	assert.Equal(t, model.ClientCompany, row.Type)

	row, err = s.Get(ctx, model.EntityOrder, orphan)
	require.NoError(t, err)
	assert.Equal(t, UnknownClient, row.Data.String("client_name"))
}

func TestMemoryStore_UpdateClient(t *testing.T) {
	s := NewMemoryStore()
	personal, company := seedClients(t, s)
	ctx := context.Background()

	require.NoError(t, s.UpdateClient(ctx, personal, Party{Name: "علی محمدی", Phone: "09120000000"}, "paused"))
	row, err := s.Get(ctx, model.EntityClient, personal)
	require.NoError(t, err)
	assert.Equal(t, "علی محمدی", row.Data.String("name"))
	assert.Equal(t, "paused", row.Status)

	require.NoError(t, s.UpdateClient(ctx, company, Party{Name: "شرکت البرز"}, ""))
	row, err = s.Get(ctx, model.EntityClient, company)
	require.NoError(t, err)
	assert.Equal(t, "شرکت البرز", row.Data.String("name"))
	assert.Equal(t, "done", row.Status, "empty status leaves it unchanged")

	assert.ErrorIs(t, s.UpdateClient(ctx, "404", Party{}, ""), ErrNotFound)
}

func TestMemoryStore_probe(t *testing.T) {
	s := NewMemoryStore()
	personal, _ := seedClients(t, s)
	ctx := context.Background()

	found, err := s.Exists(ctx, TablePreOrder, "client_id", personal)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Insert(ctx, TablePreOrder, map[string]any{"client_id": personal})
	require.NoError(t, err)
	_, err = s.Insert(ctx, TablePreOrder, map[string]any{"client_id": personal})
	require.NoError(t, err)

	found, err = s.Exists(ctx, TablePreOrder, "client_id", personal)
	require.NoError(t, err)
	assert.True(t, found)

	n, err := s.DeleteWhere(ctx, TablePreOrder, "client_id", personal)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = s.Exists(ctx, "shipment", "client_id", personal)
	assert.ErrorIs(t, err, ErrUnknownTable)

	require.NoError(t, s.DeleteByID(ctx, TableClient, personal))
	assert.ErrorIs(t, s.DeleteByID(ctx, TableClient, personal), ErrNotFound)
}

func TestMemoryStore_jobs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.InsertJob(ctx, model.NewJob{Entity: model.EntityClient, EntityID: "7", Name: "a", URL: "https://n8n/a", Status: model.JobPending})
	require.NoError(t, err)
	_, err = s.InsertJob(ctx, model.NewJob{Entity: model.EntityClient, EntityID: "8", Name: "b", URL: "https://n8n/b", Status: model.JobPending})
	require.NoError(t, err)
	second, err := s.InsertJob(ctx, model.NewJob{Entity: model.EntityClient, EntityID: "7", Name: "c", URL: "https://n8n/c", Status: model.JobPending})
	require.NoError(t, err)

	updated, err := s.UpdateJobStatus(ctx, first.ID, model.JobDone)
	require.NoError(t, err)
	assert.Equal(t, model.JobDone, updated.Status)
	assert.False(t, updated.UpdatedAt.IsZero())

	jobs, err := s.ListJobs(ctx, model.EntityClient, "7")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
	assert.Equal(t, model.JobDone, jobs[0].Status)

	_, err = s.UpdateJobStatus(ctx, "999", model.JobDone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_operators(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	op, err := s.CreateOperator(ctx, Operator{Email: "Admin@Example.com", PasswordHash: "x", Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)

	_, err = s.CreateOperator(ctx, Operator{Email: "admin@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.OperatorByEmail(ctx, "ADMIN@example.com")
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, []string{"admin"}, got.Roles)

	_, err = s.OperatorByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSchema_embedded(t *testing.T) {
	for _, table := range []string{"person", "company", "client", "pre_order", `"order"`, "pre_invoice", "invoice", "n8n_job", "operator"} {
		assert.Contains(t, Schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
