package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

// PGStore is a PostgreSQL-backed Store using pgx/v5.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects a pool with the given settings.
func NewPGStore(ctx context.Context, cfg config.DatabaseConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// NewPGStoreFromPool wraps an existing pool.
func NewPGStoreFromPool(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Close releases the pool.
func (s *PGStore) Close() { s.pool.Close() }

// Ping checks connectivity.
func (s *PGStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Migrate applies the embedded schema. It is idempotent.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Notify publishes payload on a LISTEN/NOTIFY channel.
func (s *PGStore) Notify(ctx context.Context, channel, payload string) error {
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// projection is the read model of an entity's table rows. seq is the numeric
// id used for ordering; it never reaches the row data.
type projection struct {
	sql     string
	columns []string
}

const partyColumns = `
	COALESCE(co.name, p.name) AS name,
	COALESCE(co.ssn, p.ssn) AS ssn,
	COALESCE(co.phone, p.phone) AS phone,
	COALESCE(co.address, p.address) AS address,
	COALESCE(co.postal_code, p.postal_code) AS postal_code,
	COALESCE(co.county, p.county) AS county,
	COALESCE(co.town, p.town) AS town`

const clientJoin = `
	LEFT JOIN client c ON c.id = x.client_id
	LEFT JOIN person p ON p.id = c.person_id
	LEFT JOIN company co ON co.id = c.company_id`

var projections = map[model.EntityType]projection{
	model.EntityClient: {
		sql: `SELECT c.id AS seq, c.id::text AS id, c.type, c.status, c.created_at,
			c.person_id::text AS person_id, c.company_id::text AS company_id,` + partyColumns + `
			FROM client c
			LEFT JOIN person p ON p.id = c.person_id
			LEFT JOIN company co ON co.id = c.company_id
			WHERE p.id IS NOT NULL OR co.id IS NOT NULL`,
		columns: []string{"id", "type", "status", "name", "ssn", "phone", "address", "postal_code", "county", "town"},
	},
	model.EntityPreOrder: {
		sql: `SELECT x.id AS seq, x.id::text AS id, x.type, x.status, x.created_at,
			x.client_id::text AS client_id, x.client_name, x.description,
			COALESCE(x.estimated_amount, -1)::float8 AS estimated_amount
			FROM pre_order x`,
		columns: []string{"id", "type", "status", "client_name", "description", "estimated_amount"},
	},
	model.EntityOrder: {
		sql: `SELECT x.id AS seq, x.id::text AS id, COALESCE(c.type, 'company') AS type, x.status, x.created_at,
			'سفارش ' || x.order_number AS name, x.order_number,
			COALESCE(co.name, p.name, 'نامشخص') AS client_name, x.description,
			x.total_amount::float8 AS total_amount,
			x.client_id::text AS client_id, x.pre_order_id::text AS pre_order_id
			FROM "order" x` + clientJoin,
		columns: []string{"id", "type", "status", "name", "order_number", "client_name", "description", "total_amount"},
	},
	model.EntityPreInvoice: {
		sql: `SELECT x.id AS seq, x.id::text AS id, COALESCE(c.type, 'company') AS type, x.status, x.created_at,
			COALESCE(co.name, p.name, 'نامشخص') AS client_name,
			x.total_amount::float8 AS total_amount,
			x.client_id::text AS client_id, x.order_id::text AS order_id
			FROM pre_invoice x` + clientJoin,
		columns: []string{"id", "type", "status", "client_name", "total_amount"},
	},
	model.EntityInvoice: {
		sql: `SELECT x.id AS seq, x.id::text AS id, COALESCE(c.type, 'company') AS type, x.status, x.created_at,
			COALESCE(co.name, p.name, 'نامشخص') AS client_name,
			x.total_amount::float8 AS total_amount,
			x.client_id::text AS client_id, x.order_id::text AS order_id,
			x.pre_invoice_id::text AS pre_invoice_id
			FROM invoice x` + clientJoin,
		columns: []string{"id", "type", "status", "client_name", "total_amount"},
	},
}

func projectionFor(et model.EntityType) (projection, error) {
	p, ok := projections[et]
	if !ok {
		return projection{}, fmt.Errorf("%w: %s", ErrUnknownTable, et)
	}
	return p, nil
}

// where renders the filter over the projection alias r. Search columns
// outside the projection are ignored.
func (p projection) where(f Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if types := active(f.Types); types != nil {
		args = append(args, types)
		clauses = append(clauses, fmt.Sprintf("r.type = ANY($%d)", len(args)))
	}
	if statuses := active(f.Statuses); statuses != nil {
		args = append(args, statuses)
		clauses = append(clauses, fmt.Sprintf("r.status = ANY($%d)", len(args)))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		var ors []string
		for _, col := range f.SearchColumns {
			if !slices.Contains(p.columns, col) {
				continue
			}
			if len(ors) == 0 {
				args = append(args, "%"+escapeLike(search)+"%")
			}
			ors = append(ors, fmt.Sprintf("r.%s::text ILIKE $%d", pgx.Identifier{col}.Sanitize(), len(args)))
		}
		if len(ors) > 0 {
			clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
		}
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListRows returns one page of projected rows, newest first.
func (s *PGStore) ListRows(ctx context.Context, et model.EntityType, q Query) (rows []*model.RecordRow, err error) {
	ctx, span := observability.StartSpan(ctx, "store.list_rows", attribute.String("entity", string(et)))
	defer func() { observability.EndSpanWithError(span, err) }()

	p, err := projectionFor(et)
	if err != nil {
		return nil, err
	}

	where, args := p.where(q.Filter)
	sql := "SELECT * FROM (" + p.sql + ") r" + where + " ORDER BY r.created_at DESC, r.seq DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	result, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s rows: %w", et, err)
	}
	maps, err := pgx.CollectRows(result, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("scan %s rows: %w", et, err)
	}

	rows = make([]*model.RecordRow, 0, len(maps))
	for _, m := range maps {
		row := recordRow(m)
		rows = append(rows, &row)
	}
	return rows, nil
}

// CountRows counts the rows matching f.
func (s *PGStore) CountRows(ctx context.Context, et model.EntityType, f Filter) (n int, err error) {
	ctx, span := observability.StartSpan(ctx, "store.count_rows", attribute.String("entity", string(et)))
	defer func() { observability.EndSpanWithError(span, err) }()

	p, err := projectionFor(et)
	if err != nil {
		return 0, err
	}
	where, args := p.where(f)
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM ("+p.sql+") r"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", et, err)
	}
	return n, nil
}

// Get returns the projected row of an entity.
func (s *PGStore) Get(ctx context.Context, et model.EntityType, id string) (model.RecordRow, error) {
	p, err := projectionFor(et)
	if err != nil {
		return model.RecordRow{}, err
	}
	seq, err := parseID(id)
	if err != nil {
		return model.RecordRow{}, err
	}

	result, err := s.pool.Query(ctx, "SELECT * FROM ("+p.sql+") r WHERE r.seq = $1", seq)
	if err != nil {
		return model.RecordRow{}, fmt.Errorf("query %s %s: %w", et, id, err)
	}
	m, err := pgx.CollectOneRow(result, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RecordRow{}, ErrNotFound
	}
	if err != nil {
		return model.RecordRow{}, fmt.Errorf("scan %s %s: %w", et, id, err)
	}
	return recordRow(m), nil
}

func recordRow(m map[string]any) model.RecordRow {
	delete(m, "seq")
	data := model.Record(m)
	return model.RecordRow{
		ID:     data.String("id"),
		Type:   model.ClientType(data.String("type")),
		Status: data.String("status"),
		Data:   data,
	}
}

// parseID rejects ids that cannot name a row.
func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

// Insert adds a row. Values travel over the simple protocol so the server
// coerces them to the column types.
func (s *PGStore) Insert(ctx context.Context, table string, values map[string]any) (string, error) {
	if !knownTable(table) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	var sql string
	cols, args := sortedColumns(values)
	if len(cols) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id::text", pgx.Identifier{table}.Sanitize())
	} else {
		placeholders := make([]string, len(cols))
		for i := range cols {
			placeholders[i] = "$" + strconv.Itoa(i+1)
		}
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id::text",
			pgx.Identifier{table}.Sanitize(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	}

	var id string
	err := s.pool.QueryRow(ctx, sql, append([]any{pgx.QueryExecModeSimpleProtocol}, args...)...).Scan(&id)
	if err != nil {
		return "", classify(fmt.Errorf("insert %s: %w", table, err))
	}
	return id, nil
}

// Update sets the given columns of one row.
func (s *PGStore) Update(ctx context.Context, table, id string, values map[string]any) error {
	if !knownTable(table) {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	seq, err := parseID(id)
	if err != nil {
		return err
	}
	delete(values, "id")
	cols, args := sortedColumns(values)
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	args = append(args, seq)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, sql, append([]any{pgx.QueryExecModeSimpleProtocol}, args...)...)
	if err != nil {
		return classify(fmt.Errorf("update %s %s: %w", table, id, err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// sortedColumns returns sanitized column names in a stable order with their
// values.
func sortedColumns(values map[string]any) ([]string, []any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = pgx.Identifier{k}.Sanitize()
		args[i] = values[k]
	}
	return cols, args
}

// classify maps constraint violations onto store sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}

// --- Clients ---

func (s *PGStore) createParty(ctx context.Context, table string, p Party) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, ssn, phone, address, postal_code, county, town)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id::text`, table),
		p.Name, p.SSN, p.Phone, p.Address, p.PostalCode, p.County, p.Town,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

// CreatePerson inserts a person row.
func (s *PGStore) CreatePerson(ctx context.Context, p Party) (string, error) {
	return s.createParty(ctx, TablePerson, p)
}

// CreateCompany inserts a company row.
func (s *PGStore) CreateCompany(ctx context.Context, p Party) (string, error) {
	return s.createParty(ctx, TableCompany, p)
}

// CreateClient inserts a client row.
func (s *PGStore) CreateClient(ctx context.Context, c NewClient) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO client (person_id, company_id, type, status)
		VALUES (NULLIF($1, '')::bigint, NULLIF($2, '')::bigint, $3, $4)
		RETURNING id::text`,
		c.PersonID, c.CompanyID, string(c.Type), c.Status,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert client: %w", err)
	}
	return id, nil
}

// UpdateClient rewrites the company behind a company client, or the person
// otherwise, in one transaction.
func (s *PGStore) UpdateClient(ctx context.Context, id string, p Party, status string) error {
	seq, err := parseID(id)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var personID, companyID *int64
		err := tx.QueryRow(ctx, `SELECT person_id, company_id FROM client WHERE id = $1 FOR UPDATE`, seq).
			Scan(&personID, &companyID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load client %s: %w", id, err)
		}

		table, partyID := TablePerson, personID
		if companyID != nil {
			table, partyID = TableCompany, companyID
		}
		if partyID == nil {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET name = $1, ssn = $2, phone = $3, address = $4,
				postal_code = $5, county = $6, town = $7
			WHERE id = $8`, table),
			p.Name, p.SSN, p.Phone, p.Address, p.PostalCode, p.County, p.Town, *partyID,
		)
		if err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}

		if status != "" {
			if _, err := tx.Exec(ctx, `UPDATE client SET status = $1 WHERE id = $2`, status, seq); err != nil {
				return fmt.Errorf("update client status: %w", err)
			}
		}
		return nil
	})
}

// ClientNames returns every resolvable client, newest first.
func (s *PGStore) ClientNames(ctx context.Context) ([]ClientName, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT r.id, r.name, r.type FROM ("+projections[model.EntityClient].sql+") r ORDER BY r.seq DESC")
	if err != nil {
		return nil, fmt.Errorf("query client names: %w", err)
	}
	defer rows.Close()

	var names []ClientName
	for rows.Next() {
		var n ClientName
		var typ string
		if err := rows.Scan(&n.ID, &n.Name, &typ); err != nil {
			return nil, fmt.Errorf("scan client name: %w", err)
		}
		n.Type = model.ClientType(typ)
		names = append(names, n)
	}
	return names, rows.Err()
}

// --- Probe ---

// Exists reports whether a row of table has column = value.
func (s *PGStore) Exists(ctx context.Context, table, column, value string) (found bool, err error) {
	ctx, span := observability.StartSpan(ctx, "store.exists",
		attribute.String("table", table),
		attribute.String("column", column),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s::text = $1 LIMIT 1)",
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{column}.Sanitize())
	if err := s.pool.QueryRow(ctx, sql, value).Scan(&found); err != nil {
		return false, fmt.Errorf("probe %s.%s: %w", table, column, err)
	}
	return found, nil
}

// DeleteWhere removes the rows of table with column = value.
func (s *PGStore) DeleteWhere(ctx context.Context, table, column, value string) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s::text = $1",
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{column}.Sanitize())
	tag, err := s.pool.Exec(ctx, sql, value)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByID removes one row.
func (s *PGStore) DeleteByID(ctx context.Context, table, id string) error {
	seq, err := parseID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", pgx.Identifier{table}.Sanitize()), seq)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id::text, name, url, status, entity, entity_id, updated_at`

func scanJob(row pgx.Row) (model.Job, error) {
	var (
		j              model.Job
		status, entity string
	)
	if err := row.Scan(&j.ID, &j.Name, &j.URL, &status, &entity, &j.EntityID, &j.UpdatedAt); err != nil {
		return model.Job{}, err
	}
	j.Status = model.JobStatus(status)
	j.Entity = model.EntityType(entity)
	return j, nil
}

// InsertJob persists a job row.
func (s *PGStore) InsertJob(ctx context.Context, nj model.NewJob) (model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `
		INSERT INTO n8n_job (entity, entity_id, name, url, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+jobColumns,
		string(nj.Entity), nj.EntityID, nj.Name, nj.URL, string(nj.Status),
	))
	if err != nil {
		return model.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// UpdateJobStatus sets the status of a job.
func (s *PGStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) (model.Job, error) {
	seq, err := parseID(id)
	if err != nil {
		return model.Job{}, err
	}
	j, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE n8n_job SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+jobColumns,
		string(status), seq,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns the jobs of one entity row in submission order.
func (s *PGStore) ListJobs(ctx context.Context, et model.EntityType, entityID string) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM n8n_job
		WHERE entity = $1 AND entity_id = $2
		ORDER BY id ASC`,
		string(et), entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Operators ---

// CreateOperator stores an operator. A taken email yields ErrDuplicate.
func (s *PGStore) CreateOperator(ctx context.Context, op Operator) (Operator, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO operator (id, email, password_hash, roles)
		VALUES ($1::text::uuid, lower($2), $3, $4)
		RETURNING created_at`,
		op.ID, op.Email, op.PasswordHash, op.Roles,
	).Scan(&op.CreatedAt)
	if err != nil {
		return Operator{}, classify(fmt.Errorf("insert operator: %w", err))
	}
	return op, nil
}

// OperatorByEmail looks an operator up case-insensitively.
func (s *PGStore) OperatorByEmail(ctx context.Context, email string) (Operator, error) {
	var op Operator
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, email, password_hash, roles, created_at
		FROM operator
		WHERE email = lower($1)`,
		email,
	).Scan(&op.ID, &op.Email, &op.PasswordHash, &op.Roles, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Operator{}, ErrNotFound
	}
	if err != nil {
		return Operator{}, fmt.Errorf("query operator: %w", err)
	}
	return op, nil
}
