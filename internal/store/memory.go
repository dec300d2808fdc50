package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/dastyar/model"
)

// MemoryStore is an in-memory Store for tests and single-node demos. Rows
// are kept as raw column maps and projected the way PGStore projects them.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       map[string]int64
	tables    map[string]map[string]model.Record // table -> id -> columns
	operators map[string]Operator                // key: email
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		seq:       make(map[string]int64),
		tables:    make(map[string]map[string]model.Record),
		operators: make(map[string]Operator),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, t := range Tables {
		s.tables[t] = make(map[string]model.Record)
	}
	return s
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// insertLocked stores a copy of values under a fresh id.
func (s *MemoryStore) insertLocked(table string, values map[string]any) (string, error) {
	rows, ok := s.tables[table]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	s.seq[table]++
	id := strconv.FormatInt(s.seq[table], 10)

	rec := make(model.Record, len(values)+2)
	for k, v := range values {
		rec[k] = v
	}
	rec["id"] = id
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = s.now()
	}
	if table == TableOrder && rec.String("order_number") == "" {
		rec["order_number"] = strconv.FormatInt(999+s.seq[table], 10)
	}
	rows[id] = rec
	return id, nil
}

// Insert adds a row to table and returns its id.
func (s *MemoryStore) Insert(_ context.Context, table string, values map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(table, values)
}

// Update merges values into the row of table with the given id.
func (s *MemoryStore) Update(_ context.Context, table, id string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	rec, ok := rows[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range values {
		if k == "id" {
			continue
		}
		rec[k] = v
	}
	return nil
}

// Get returns the projected row of an entity.
func (s *MemoryStore) Get(_ context.Context, et model.EntityType, id string) (model.RecordRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tables[string(et)][id]
	if !ok {
		return model.RecordRow{}, ErrNotFound
	}
	row := s.project(et, rec)
	if row == nil {
		return model.RecordRow{}, ErrNotFound
	}
	return *row, nil
}

// --- Clients ---

func partyValues(p Party) map[string]any {
	return map[string]any{
		"name":        p.Name,
		"ssn":         p.SSN,
		"phone":       p.Phone,
		"address":     p.Address,
		"postal_code": p.PostalCode,
		"county":      p.County,
		"town":        p.Town,
	}
}

// CreatePerson inserts a person row.
func (s *MemoryStore) CreatePerson(ctx context.Context, p Party) (string, error) {
	return s.Insert(ctx, TablePerson, partyValues(p))
}

// CreateCompany inserts a company row.
func (s *MemoryStore) CreateCompany(ctx context.Context, p Party) (string, error) {
	return s.Insert(ctx, TableCompany, partyValues(p))
}

// CreateClient inserts a client row referencing its person and company.
func (s *MemoryStore) CreateClient(ctx context.Context, c NewClient) (string, error) {
	values := map[string]any{
		"type":   string(c.Type),
		"status": c.Status,
	}
	if c.PersonID != "" {
		values["person_id"] = c.PersonID
	}
	if c.CompanyID != "" {
		values["company_id"] = c.CompanyID
	}
	return s.Insert(ctx, TableClient, values)
}

// UpdateClient rewrites the company behind a company client, or the person
// otherwise.
func (s *MemoryStore) UpdateClient(_ context.Context, id string, p Party, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.tables[TableClient][id]
	if !ok {
		return ErrNotFound
	}

	table, partyID := TablePerson, client.String("person_id")
	if cid := client.String("company_id"); cid != "" {
		table, partyID = TableCompany, cid
	}
	party, ok := s.tables[table][partyID]
	if !ok {
		return ErrNotFound
	}
	for k, v := range partyValues(p) {
		party[k] = v
	}
	if status != "" {
		client["status"] = status
	}
	return nil
}

// ClientNames returns every resolvable client, newest first.
func (s *MemoryStore) ClientNames(context.Context) ([]ClientName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]ClientName, 0, len(s.tables[TableClient]))
	for _, rec := range s.sortedLocked(TableClient) {
		row := s.project(model.EntityClient, rec)
		if row == nil {
			continue
		}
		names = append(names, ClientName{ID: row.ID, Name: row.Data.String("name"), Type: row.Type})
	}
	return names, nil
}

// --- Rows ---

// ListRows returns one page of projected rows, newest first. Clients whose
// person and company are both gone are skipped, as CountRows skips them.
func (s *MemoryStore) ListRows(_ context.Context, et model.EntityType, q Query) ([]*model.RecordRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !knownTable(string(et)) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, et)
	}

	var matched []*model.RecordRow
	for _, rec := range s.sortedLocked(string(et)) {
		row := s.project(et, rec)
		if row == nil || !matches(row, q.Filter) {
			continue
		}
		matched = append(matched, row)
	}

	if q.Offset >= len(matched) {
		return []*model.RecordRow{}, nil
	}
	end := len(matched)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return matched[q.Offset:end], nil
}

// CountRows counts the rows matching f.
func (s *MemoryStore) CountRows(_ context.Context, et model.EntityType, f Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !knownTable(string(et)) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, et)
	}

	n := 0
	for _, rec := range s.tables[string(et)] {
		if row := s.project(et, rec); row != nil && matches(row, f) {
			n++
		}
	}
	return n, nil
}

// sortedLocked returns the rows of table newest first.
func (s *MemoryStore) sortedLocked(table string) []model.Record {
	recs := make([]model.Record, 0, len(s.tables[table]))
	for _, rec := range s.tables[table] {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, _ := strconv.Atoi(recs[i].String("id"))
		b, _ := strconv.Atoi(recs[j].String("id"))
		return a > b
	})
	return recs
}

func matches(row *model.RecordRow, f Filter) bool {
	if types := active(f.Types); types != nil && !slices.Contains(types, string(row.Type)) {
		return false
	}
	if statuses := active(f.Statuses); statuses != nil && !slices.Contains(statuses, row.Status) {
		return false
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	if search == "" {
		return true
	}
	for _, col := range f.SearchColumns {
		if strings.Contains(strings.ToLower(row.Data.String(col)), search) {
			return true
		}
	}
	return false
}

// project builds the table row of et from its raw columns. It returns nil
// for a client whose party rows are missing.
func (s *MemoryStore) project(et model.EntityType, rec model.Record) *model.RecordRow {
	data := make(model.Record, len(rec)+4)
	for k, v := range rec {
		data[k] = v
	}

	row := &model.RecordRow{ID: rec.String("id"), Status: rec.String("status"), Data: data}

	switch et {
	case model.EntityClient:
		party := s.party(rec)
		if party == nil {
			return nil
		}
		for _, k := range []string{"name", "ssn", "phone", "address", "postal_code", "county", "town"} {
			data[k] = party[k]
		}
		row.Type = model.ClientType(rec.String("type"))
	case model.EntityPreOrder:
		if v, ok := rec["estimated_amount"]; !ok || v == nil {
			data["estimated_amount"] = UnsetAmount
		}
		row.Type = model.ClientType(rec.String("type"))
	case model.EntityOrder:
		data["name"] = OrderName(rec.String("order_number"))
		row.Type = s.clientInfo(rec, data)
	default:
		row.Type = s.clientInfo(rec, data)
	}
	data["type"] = string(row.Type)
	return row
}

// party returns the company of a company client, else its person.
func (s *MemoryStore) party(client model.Record) model.Record {
	if cid := client.String("company_id"); cid != "" {
		if c, ok := s.tables[TableCompany][cid]; ok {
			return c
		}
	}
	if pid := client.String("person_id"); pid != "" {
		if p, ok := s.tables[TablePerson][pid]; ok {
			return p
		}
	}
	return nil
}

// clientInfo fills client_name from the referenced client and returns the
// client's type.
func (s *MemoryStore) clientInfo(rec, data model.Record) model.ClientType {
	data["client_name"] = UnknownClient
	client, ok := s.tables[TableClient][rec.String("client_id")]
	if !ok {
		return model.ClientCompany
	}
	if party := s.party(client); party != nil {
		if name := party.String("name"); name != "" {
			data["client_name"] = name
		}
	}
	if t := client.String("type"); t != "" {
		return model.ClientType(t)
	}
	return model.ClientCompany
}

// --- Probe ---

// Exists reports whether a row of table has column = value.
func (s *MemoryStore) Exists(_ context.Context, table, column, value string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.tables[table]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	for _, rec := range rows {
		if rec.String(column) == value {
			return true, nil
		}
	}
	return false, nil
}

// DeleteWhere removes the rows of table with column = value.
func (s *MemoryStore) DeleteWhere(_ context.Context, table, column, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	var n int64
	for id, rec := range rows {
		if rec.String(column) == value {
			delete(rows, id)
			n++
		}
	}
	return n, nil
}

// DeleteByID removes one row.
func (s *MemoryStore) DeleteByID(_ context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if _, ok := rows[id]; !ok {
		return ErrNotFound
	}
	delete(rows, id)
	return nil
}

// --- Jobs ---

// InsertJob persists a job row.
func (s *MemoryStore) InsertJob(_ context.Context, j model.NewJob) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.insertLocked(TableJob, map[string]any{
		"entity":     string(j.Entity),
		"entity_id":  j.EntityID,
		"name":       j.Name,
		"url":        j.URL,
		"status":     string(j.Status),
		"updated_at": s.now(),
	})
	if err != nil {
		return model.Job{}, err
	}
	return jobFromRecord(s.tables[TableJob][id]), nil
}

// UpdateJobStatus sets the status of a job.
func (s *MemoryStore) UpdateJobStatus(_ context.Context, id string, status model.JobStatus) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tables[TableJob][id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	rec["status"] = string(status)
	rec["updated_at"] = s.now()
	return jobFromRecord(rec), nil
}

// ListJobs returns the jobs of one entity row in submission order.
func (s *MemoryStore) ListJobs(_ context.Context, et model.EntityType, entityID string) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.sortedLocked(TableJob)
	jobs := make([]model.Job, 0)
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if rec.String("entity") == string(et) && rec.String("entity_id") == entityID {
			jobs = append(jobs, jobFromRecord(rec))
		}
	}
	return jobs, nil
}

func jobFromRecord(rec model.Record) model.Job {
	updated, _ := rec["updated_at"].(time.Time)
	return model.Job{
		ID:        rec.String("id"),
		Name:      rec.String("name"),
		URL:       rec.String("url"),
		Status:    model.JobStatus(rec.String("status")),
		Entity:    model.EntityType(rec.String("entity")),
		EntityID:  rec.String("entity_id"),
		UpdatedAt: updated,
	}
}

// --- Operators ---

// CreateOperator stores an operator. The email is unique.
func (s *MemoryStore) CreateOperator(_ context.Context, op Operator) (Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(op.Email)
	if _, exists := s.operators[key]; exists {
		return Operator{}, fmt.Errorf("%w: operator %q", ErrDuplicate, op.Email)
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.CreatedAt = s.now()
	op.Roles = append([]string(nil), op.Roles...)
	s.operators[key] = op
	return op, nil
}

// OperatorByEmail looks an operator up case-insensitively.
func (s *MemoryStore) OperatorByEmail(_ context.Context, email string) (Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operators[strings.ToLower(email)]
	if !ok {
		return Operator{}, ErrNotFound
	}
	return op, nil
}
