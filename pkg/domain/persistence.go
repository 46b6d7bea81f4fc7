package domain

import (
	"context"
	"time"
)

// Transaction exposes the registry operations a persistence implementation
// must support within an atomic scope. Number allocation happens inside the
// same transaction that creates the record so an abort never burns a
// sequence.
type Transaction interface {
	Snapshot() TransactionView

	// AllocateNumber issues the next sequence for the year across every
	// listed family: max already issued in any of them, plus one. A family
	// with no rows for the year contributes zero. Implementations must
	// serialize concurrent allocations for the same year while leaving
	// other years unblocked.
	AllocateNumber(families []Family, year int) (RegistryNumber, error)

	CreateSimpleReport(SimpleReport) (SimpleReport, error)
	UpdateSimpleReport(id string, expected time.Time, mutator func(*SimpleReport) error) (SimpleReport, error)
	CreateInvestigation(Investigation) (Investigation, error)
	UpdateInvestigation(id string, expected time.Time, mutator func(*Investigation) error) (Investigation, error)
	CreateDetectionSheet(DetectionSheet) (DetectionSheet, error)
	UpdateDetectionSheet(id string, expected time.Time, mutator func(*DetectionSheet) error) (DetectionSheet, error)
	CreateZoneSheet(ZoneSheet) (ZoneSheet, error)
	UpdateZoneSheet(id string, expected time.Time, mutator func(*ZoneSheet) error) (ZoneSheet, error)
	CreateProductEvent(ProductEvent) (ProductEvent, error)
	UpdateProductEvent(id string, expected time.Time, mutator func(*ProductEvent) error) (ProductEvent, error)

	// UpdateRecord dispatches on ref.Family; expected carries the
	// optimistic-concurrency token (zero time skips the check, used by
	// lifecycle transitions which are guarded by status instead).
	UpdateRecord(ref RecordRef, expected time.Time, mutator func(*EventBase) error) (EventRecord, error)

	// Link records a symmetric free link between two records of any
	// families; Unlink removes it regardless of insertion order.
	Link(a, b RecordRef) error
	Unlink(a, b RecordRef) error
}

// TransactionView provides read-only access to registry state for rules and
// the cross-entity query engine.
type TransactionView interface {
	ListFamily(family Family) []EventRecord
	FindRecord(ref RecordRef) (EventRecord, bool)
	Links() []FreeLink
	LinksFor(ref RecordRef) []RecordRef
}

// PersistentStore is a minimal abstraction over durable backends. It
// mirrors the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	FindRecord(ctx context.Context, ref RecordRef) (EventRecord, bool, error)
	LinksFor(ctx context.Context, ref RecordRef) ([]RecordRef, error)
	Close() error
}
