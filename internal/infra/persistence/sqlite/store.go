// Package sqlite persists the registry state to a single-file SQLite
// database. It layers snapshotting on top of the in-memory store: every
// successful transaction rewrites the per-family JSON buckets.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"vigiecore/internal/infra/persistence/memory"
	"vigiecore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

type (
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// Result aliases domain.Result.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Snapshot aliases the in-memory snapshot persisted as JSON buckets.
	Snapshot = memory.Snapshot
)

// Store persists the in-memory state to a single SQLite table as JSON
// blobs. It snapshots the full state after every successful transaction.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *RulesEngine) (*Store, error) {
	if path == "" {
		path = "vigiecore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var sqliteBuckets = []string{"simple_reports", "investigations", "detection_sheets", "zone_sheets", "product_events", "links"}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	type raw struct {
		bucket  string
		payload []byte
	}
	var raws []raw
	for rows.Next() {
		var r raw
		if err := rows.Scan(&r.bucket, &r.payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		raws = append(raws, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if len(raws) == 0 {
		return nil
	}
	snapshot := Snapshot{}
	for _, r := range raws {
		switch r.bucket {
		case "simple_reports":
			if err := json.Unmarshal(r.payload, &snapshot.SimpleReports); err != nil {
				return fmt.Errorf("decode simple_reports: %w", err)
			}
		case "investigations":
			if err := json.Unmarshal(r.payload, &snapshot.Investigations); err != nil {
				return fmt.Errorf("decode investigations: %w", err)
			}
		case "detection_sheets":
			if err := json.Unmarshal(r.payload, &snapshot.DetectionSheets); err != nil {
				return fmt.Errorf("decode detection_sheets: %w", err)
			}
		case "zone_sheets":
			if err := json.Unmarshal(r.payload, &snapshot.ZoneSheets); err != nil {
				return fmt.Errorf("decode zone_sheets: %w", err)
			}
		case "product_events":
			if err := json.Unmarshal(r.payload, &snapshot.ProductEvents); err != nil {
				return fmt.Errorf("decode product_events: %w", err)
			}
		case "links":
			if err := json.Unmarshal(r.payload, &snapshot.Links); err != nil {
				return fmt.Errorf("decode links: %w", err)
			}
		}
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case "simple_reports":
			data, err = json.Marshal(snapshot.SimpleReports)
		case "investigations":
			data, err = json.Marshal(snapshot.Investigations)
		case "detection_sheets":
			data, err = json.Marshal(snapshot.DetectionSheets)
		case "zone_sheets":
			data, err = json.Marshal(snapshot.ZoneSheets)
		case "product_events":
			data, err = json.Marshal(snapshot.ProductEvents)
		case "links":
			data, err = json.Marshal(snapshot.Links)
		}
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

// RunInTransaction applies the provided function within a transaction,
// then snapshots state to SQLite if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.Store.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
