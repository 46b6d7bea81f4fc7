// Package postgres provides a Postgres-backed persistent store with real
// row-level persistence: one table per record family, a shared per-year
// sequence table locked with SELECT ... FOR UPDATE during allocation, and
// an optimistic updated_at guard on content edits.
package postgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"vigiecore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain
// interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while
	// allowing overrides via env.
	defaultDSN = "postgres://localhost/vigiecore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var familyTables = map[domain.Family]string{
	domain.FamilySimpleReport:   "simple_reports",
	domain.FamilyInvestigation:  "investigations",
	domain.FamilyDetectionSheet: "detection_sheets",
	domain.FamilyZoneSheet:      "zone_sheets",
	domain.FamilyProductEvent:   "product_events",
}

// Store persists registry state to Postgres row by row.
type Store struct {
	db     *sql.DB
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), applies the schema, and verifies connectivity.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// SetNowFunc overrides the time provider; used by tests to pin timestamps.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func applySchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS registry_sequences (
			year INTEGER PRIMARY KEY,
			last_sequence INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS registry_links (
			a_family TEXT NOT NULL,
			a_id TEXT NOT NULL,
			b_family TEXT NOT NULL,
			b_id TEXT NOT NULL,
			PRIMARY KEY (a_family, a_id, b_family, b_id)
		)`,
	}
	for _, table := range familyTables {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			year INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			creator_structure TEXT NOT NULL,
			status TEXT NOT NULL,
			visibility TEXT NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL,
			UNIQUE (year, sequence)
		)`, table))
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s_year_idx ON %s (year)`, table, table))
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func decodeRecord(family domain.Family, payload []byte) (domain.EventRecord, error) {
	switch family {
	case domain.FamilySimpleReport:
		var r domain.SimpleReport
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", family, err)
		}
		return r, nil
	case domain.FamilyInvestigation:
		var r domain.Investigation
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", family, err)
		}
		return r, nil
	case domain.FamilyDetectionSheet:
		var r domain.DetectionSheet
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", family, err)
		}
		return r, nil
	case domain.FamilyZoneSheet:
		var r domain.ZoneSheet
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", family, err)
		}
		return r, nil
	case domain.FamilyProductEvent:
		var r domain.ProductEvent
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", family, err)
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown family %q", family)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findRecord(ctx context.Context, q querier, ref domain.RecordRef) (domain.EventRecord, bool, error) {
	table, ok := familyTables[ref.Family]
	if !ok {
		return nil, false, nil
	}
	var payload []byte
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, table), ref.ID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", table, err)
	}
	record, err := decodeRecord(ref.Family, payload)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

func listFamily(ctx context.Context, q querier, family domain.Family) ([]domain.EventRecord, error) {
	table, ok := familyTables[family]
	if !ok {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT payload FROM %s ORDER BY year, sequence`, table))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.EventRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		record, err := decodeRecord(family, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func listLinks(ctx context.Context, q querier) ([]domain.FreeLink, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT a_family, a_id, b_family, b_id FROM registry_links`)
	if err != nil {
		return nil, fmt.Errorf("select registry_links: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.FreeLink
	for rows.Next() {
		var link domain.FreeLink
		var aFam, bFam string
		if err := rows.Scan(&aFam, &link.A.ID, &bFam, &link.B.ID); err != nil {
			return nil, fmt.Errorf("scan registry_links: %w", err)
		}
		link.A.Family = domain.Family(aFam)
		link.B.Family = domain.Family(bFam)
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry_links: %w", err)
	}
	return out, nil
}

// sqlView adapts a querier to the read-only view interfaces. The view
// signatures cannot return errors, so the first failed read is captured in
// err and surfaced by View/RunInTransaction after the callback returns — a
// failed read must never pass for committed truth.
type sqlView struct {
	ctx context.Context
	q   querier
	err *error
}

func (v sqlView) fail(err error) {
	if v.err != nil && *v.err == nil {
		*v.err = err
	}
}

func (v sqlView) ListFamily(family domain.Family) []domain.EventRecord {
	records, err := listFamily(v.ctx, v.q, family)
	if err != nil {
		v.fail(err)
		return nil
	}
	return records
}

func (v sqlView) FindRecord(ref domain.RecordRef) (domain.EventRecord, bool) {
	record, ok, err := findRecord(v.ctx, v.q, ref)
	if err != nil {
		v.fail(err)
		return nil, false
	}
	return record, ok
}

func (v sqlView) Links() []domain.FreeLink {
	links, err := listLinks(v.ctx, v.q)
	if err != nil {
		v.fail(err)
		return nil
	}
	return links
}

func (v sqlView) LinksFor(ref domain.RecordRef) []domain.RecordRef {
	var out []domain.RecordRef
	for _, link := range v.Links() {
		if other, ok := link.Other(ref); ok {
			out = append(out, other)
		}
	}
	return out
}

// View executes fn against committed state. A read failure inside the view
// takes precedence over whatever fn concluded from the missing data.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	var readErr error
	err := fn(sqlView{ctx: ctx, q: s.db, err: &readErr})
	if readErr != nil {
		return readErr
	}
	return err
}

// FindRecord retrieves a record by reference from committed state.
func (s *Store) FindRecord(ctx context.Context, ref domain.RecordRef) (domain.EventRecord, bool, error) {
	return findRecord(ctx, s.db, ref)
}

// LinksFor resolves the records linked to ref in committed state.
func (s *Store) LinksFor(ctx context.Context, ref domain.RecordRef) ([]domain.RecordRef, error) {
	links, err := listLinks(ctx, s.db)
	if err != nil {
		return nil, err
	}
	var out []domain.RecordRef
	for _, link := range links {
		if other, ok := link.Other(ref); ok {
			out = append(out, other)
		}
	}
	return out, nil
}

// RunInTransaction executes fn inside a single database transaction. Rule
// evaluation reads through the same transaction so it observes uncommitted
// changes; blocking violations roll everything back, numbers included.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &transaction{ctx: ctx, tx: sqlTx, now: s.nowFn()}
	err = fn(tx)
	if tx.readErr != nil {
		return domain.Result{}, tx.readErr
	}
	if err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, sqlView{ctx: ctx, q: sqlTx, err: &tx.readErr}, tx.changes)
		if tx.readErr != nil {
			return domain.Result{}, tx.readErr
		}
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return result, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return result, nil
}

type transaction struct {
	ctx     context.Context
	tx      *sql.Tx
	now     time.Time
	changes []domain.Change
	readErr error
}

var _ domain.Transaction = (*transaction)(nil)

func (tx *transaction) Snapshot() domain.TransactionView {
	return sqlView{ctx: tx.ctx, q: tx.tx, err: &tx.readErr}
}

// AllocateNumber locks the per-year counter row, recomputes the maximum
// issued sequence across the listed family tables, and advances the
// counter. The row lock serializes same-year allocations; other years
// proceed in parallel.
func (tx *transaction) AllocateNumber(families []domain.Family, year int) (domain.RegistryNumber, error) {
	if year <= 0 {
		return domain.RegistryNumber{}, fmt.Errorf("invalid allocation year %d", year)
	}
	if _, err := tx.tx.ExecContext(tx.ctx,
		`INSERT INTO registry_sequences(year, last_sequence) VALUES ($1, 0)
		 ON CONFLICT (year) DO NOTHING`, year); err != nil {
		return domain.RegistryNumber{}, fmt.Errorf("seed sequence row: %w", err)
	}
	var last int
	if err := tx.tx.QueryRowContext(tx.ctx,
		`SELECT last_sequence FROM registry_sequences WHERE year = $1 FOR UPDATE`,
		year).Scan(&last); err != nil {
		return domain.RegistryNumber{}, fmt.Errorf("lock sequence row: %w", err)
	}
	maxSeq := last
	for _, family := range families {
		table, ok := familyTables[family]
		if !ok {
			continue
		}
		var seq sql.NullInt64
		if err := tx.tx.QueryRowContext(tx.ctx,
			fmt.Sprintf(`SELECT MAX(sequence) FROM %s WHERE year = $1`, table),
			year).Scan(&seq); err != nil {
			return domain.RegistryNumber{}, fmt.Errorf("scan max sequence: %w", err)
		}
		if seq.Valid && int(seq.Int64) > maxSeq {
			maxSeq = int(seq.Int64)
		}
	}
	next := maxSeq + 1
	if _, err := tx.tx.ExecContext(tx.ctx,
		`UPDATE registry_sequences SET last_sequence = $2 WHERE year = $1`,
		year, next); err != nil {
		return domain.RegistryNumber{}, fmt.Errorf("advance sequence: %w", err)
	}
	return domain.RegistryNumber{Year: year, Sequence: next}, nil
}

func (tx *transaction) insertRecord(record domain.EventRecord) error {
	base := record.Base()
	table := familyTables[record.Family()]
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}
	if _, err := tx.tx.ExecContext(tx.ctx, fmt.Sprintf(
		`INSERT INTO %s (id, year, sequence, creator_structure, status, visibility, is_deleted, created_at, updated_at, payload)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, table),
		base.ID, base.Number.Year, base.Number.Sequence, base.CreatorStructure,
		string(base.Status), string(base.Visibility), base.Deleted,
		base.CreatedAt, base.UpdatedAt, payload); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (tx *transaction) storeRecord(record domain.EventRecord) error {
	base := record.Base()
	table := familyTables[record.Family()]
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}
	if _, err := tx.tx.ExecContext(tx.ctx, fmt.Sprintf(
		`UPDATE %s SET year=$2, sequence=$3, creator_structure=$4, status=$5, visibility=$6, is_deleted=$7, created_at=$8, updated_at=$9, payload=$10
		 WHERE id=$1`, table),
		base.ID, base.Number.Year, base.Number.Sequence, base.CreatorStructure,
		string(base.Status), string(base.Visibility), base.Deleted,
		base.CreatedAt, base.UpdatedAt, payload); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

// lockRecord fetches a record under FOR UPDATE so the optimistic token
// comparison and the subsequent write cannot interleave with another
// transaction.
func (tx *transaction) lockRecord(ref domain.RecordRef) (domain.EventRecord, error) {
	table, ok := familyTables[ref.Family]
	if !ok {
		return nil, domain.NotFoundError{Family: ref.Family, ID: ref.ID}
	}
	var payload []byte
	err := tx.tx.QueryRowContext(tx.ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1 FOR UPDATE`, table),
		ref.ID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Family: ref.Family, ID: ref.ID}
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", table, err)
	}
	return decodeRecord(ref.Family, payload)
}

func (tx *transaction) recordChange(c domain.Change) {
	tx.changes = append(tx.changes, c)
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

func checkToken(family domain.Family, id string, expected, stored time.Time) error {
	if expected.IsZero() {
		return nil
	}
	if !expected.Equal(stored) {
		return domain.ConflictError{Family: family, ID: id}
	}
	return nil
}

// contentEditBase merges a content edit: family fields come from the
// mutated copy, the shared base stays untouched except contacts and the
// refreshed updated_at.
func contentEditBase(pre, post domain.EventBase, now time.Time) domain.EventBase {
	merged := pre
	merged.AllowedStructures = append([]string(nil), pre.AllowedStructures...)
	merged.Contacts = append([]domain.Contact(nil), post.Contacts...)
	merged.UpdatedAt = now
	return merged
}

func (tx *transaction) CreateSimpleReport(r domain.SimpleReport) (domain.SimpleReport, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if err := tx.insertRecord(r); err != nil {
		return domain.SimpleReport{}, err
	}
	tx.recordChange(domain.Change{Family: domain.FamilySimpleReport, Action: domain.ActionCreate, After: r})
	return r, nil
}

func (tx *transaction) UpdateSimpleReport(id string, expected time.Time, mutator func(*domain.SimpleReport) error) (domain.SimpleReport, error) {
	ref := domain.RecordRef{Family: domain.FamilySimpleReport, ID: id}
	record, err := tx.lockRecord(ref)
	if err != nil {
		return domain.SimpleReport{}, err
	}
	current := record.(domain.SimpleReport)
	if err := checkToken(ref.Family, id, expected, current.UpdatedAt); err != nil {
		return domain.SimpleReport{}, err
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.SimpleReport{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	if err := tx.storeRecord(current); err != nil {
		return domain.SimpleReport{}, err
	}
	tx.recordChange(domain.Change{Family: ref.Family, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) CreateInvestigation(r domain.Investigation) (domain.Investigation, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if err := tx.insertRecord(r); err != nil {
		return domain.Investigation{}, err
	}
	tx.recordChange(domain.Change{Family: domain.FamilyInvestigation, Action: domain.ActionCreate, After: r})
	return r, nil
}

func (tx *transaction) UpdateInvestigation(id string, expected time.Time, mutator func(*domain.Investigation) error) (domain.Investigation, error) {
	ref := domain.RecordRef{Family: domain.FamilyInvestigation, ID: id}
	record, err := tx.lockRecord(ref)
	if err != nil {
		return domain.Investigation{}, err
	}
	current := record.(domain.Investigation)
	if err := checkToken(ref.Family, id, expected, current.UpdatedAt); err != nil {
		return domain.Investigation{}, err
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.Investigation{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	if err := tx.storeRecord(current); err != nil {
		return domain.Investigation{}, err
	}
	tx.recordChange(domain.Change{Family: ref.Family, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) CreateDetectionSheet(r domain.DetectionSheet) (domain.DetectionSheet, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if err := tx.insertRecord(r); err != nil {
		return domain.DetectionSheet{}, err
	}
	tx.recordChange(domain.Change{Family: domain.FamilyDetectionSheet, Action: domain.ActionCreate, After: r})
	return r, nil
}

func (tx *transaction) UpdateDetectionSheet(id string, expected time.Time, mutator func(*domain.DetectionSheet) error) (domain.DetectionSheet, error) {
	ref := domain.RecordRef{Family: domain.FamilyDetectionSheet, ID: id}
	record, err := tx.lockRecord(ref)
	if err != nil {
		return domain.DetectionSheet{}, err
	}
	current := record.(domain.DetectionSheet)
	if err := checkToken(ref.Family, id, expected, current.UpdatedAt); err != nil {
		return domain.DetectionSheet{}, err
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.DetectionSheet{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	if err := tx.storeRecord(current); err != nil {
		return domain.DetectionSheet{}, err
	}
	tx.recordChange(domain.Change{Family: ref.Family, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) CreateZoneSheet(r domain.ZoneSheet) (domain.ZoneSheet, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if err := tx.insertRecord(r); err != nil {
		return domain.ZoneSheet{}, err
	}
	tx.recordChange(domain.Change{Family: domain.FamilyZoneSheet, Action: domain.ActionCreate, After: r})
	return r, nil
}

func (tx *transaction) UpdateZoneSheet(id string, expected time.Time, mutator func(*domain.ZoneSheet) error) (domain.ZoneSheet, error) {
	ref := domain.RecordRef{Family: domain.FamilyZoneSheet, ID: id}
	record, err := tx.lockRecord(ref)
	if err != nil {
		return domain.ZoneSheet{}, err
	}
	current := record.(domain.ZoneSheet)
	if err := checkToken(ref.Family, id, expected, current.UpdatedAt); err != nil {
		return domain.ZoneSheet{}, err
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.ZoneSheet{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	if err := tx.storeRecord(current); err != nil {
		return domain.ZoneSheet{}, err
	}
	tx.recordChange(domain.Change{Family: ref.Family, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) CreateProductEvent(r domain.ProductEvent) (domain.ProductEvent, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if err := tx.insertRecord(r); err != nil {
		return domain.ProductEvent{}, err
	}
	tx.recordChange(domain.Change{Family: domain.FamilyProductEvent, Action: domain.ActionCreate, After: r})
	return r, nil
}

func (tx *transaction) UpdateProductEvent(id string, expected time.Time, mutator func(*domain.ProductEvent) error) (domain.ProductEvent, error) {
	ref := domain.RecordRef{Family: domain.FamilyProductEvent, ID: id}
	record, err := tx.lockRecord(ref)
	if err != nil {
		return domain.ProductEvent{}, err
	}
	current := record.(domain.ProductEvent)
	if err := checkToken(ref.Family, id, expected, current.UpdatedAt); err != nil {
		return domain.ProductEvent{}, err
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.ProductEvent{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	if err := tx.storeRecord(current); err != nil {
		return domain.ProductEvent{}, err
	}
	tx.recordChange(domain.Change{Family: ref.Family, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// UpdateRecord applies a base mutation (lifecycle, visibility, soft-delete)
// to a record of any family.
func (tx *transaction) UpdateRecord(ref domain.RecordRef, expected time.Time, mutator func(*domain.EventBase) error) (domain.EventRecord, error) {
	record, err := tx.lockRecord(ref)
	if err != nil {
		return nil, err
	}
	base := record.Base()
	if err := checkToken(ref.Family, ref.ID, expected, base.UpdatedAt); err != nil {
		return nil, err
	}
	before := record
	pre := base
	if err := mutator(&base); err != nil {
		return nil, err
	}
	// Identity fields stay frozen no matter what the mutator did.
	base.ID = pre.ID
	base.CreatorStructure = pre.CreatorStructure
	base.CreatedAt = pre.CreatedAt
	if !pre.Number.IsZero() {
		base.Number = pre.Number
	}
	base.UpdatedAt = tx.now

	updated := withBase(record, base)
	if err := tx.storeRecord(updated); err != nil {
		return nil, err
	}
	tx.recordChange(domain.Change{Family: ref.Family, Action: domain.ActionUpdate, Before: before, After: updated})
	return updated, nil
}

func withBase(record domain.EventRecord, base domain.EventBase) domain.EventRecord {
	switch r := record.(type) {
	case domain.SimpleReport:
		r.EventBase = base
		return r
	case domain.Investigation:
		r.EventBase = base
		return r
	case domain.DetectionSheet:
		r.EventBase = base
		return r
	case domain.ZoneSheet:
		r.EventBase = base
		return r
	case domain.ProductEvent:
		r.EventBase = base
		return r
	}
	return record
}

// Link records a symmetric free link; duplicates in either orientation are
// collapsed.
func (tx *transaction) Link(a, b domain.RecordRef) error {
	for _, ref := range []domain.RecordRef{a, b} {
		if _, err := tx.lockRecord(ref); err != nil {
			return err
		}
	}
	var exists bool
	if err := tx.tx.QueryRowContext(tx.ctx,
		`SELECT EXISTS (
			SELECT 1 FROM registry_links
			WHERE (a_family=$1 AND a_id=$2 AND b_family=$3 AND b_id=$4)
			   OR (a_family=$3 AND a_id=$4 AND b_family=$1 AND b_id=$2)
		)`, string(a.Family), a.ID, string(b.Family), b.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check link: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := tx.tx.ExecContext(tx.ctx,
		`INSERT INTO registry_links (a_family, a_id, b_family, b_id) VALUES ($1,$2,$3,$4)`,
		string(a.Family), a.ID, string(b.Family), b.ID); err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// Unlink removes a free link regardless of insertion order.
func (tx *transaction) Unlink(a, b domain.RecordRef) error {
	if _, err := tx.tx.ExecContext(tx.ctx,
		`DELETE FROM registry_links
		 WHERE (a_family=$1 AND a_id=$2 AND b_family=$3 AND b_id=$4)
		    OR (a_family=$3 AND a_id=$4 AND b_family=$1 AND b_id=$2)`,
		string(a.Family), a.ID, string(b.Family), b.ID); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a
// restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
