// Package memory provides an in-memory implementation of the registry
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"vigiecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the
// domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// SimpleReport aliases domain.SimpleReport for in-memory persistence.
	SimpleReport = domain.SimpleReport
	// Investigation aliases domain.Investigation.
	Investigation = domain.Investigation
	// DetectionSheet aliases domain.DetectionSheet.
	DetectionSheet = domain.DetectionSheet
	// ZoneSheet aliases domain.ZoneSheet.
	ZoneSheet = domain.ZoneSheet
	// ProductEvent aliases domain.ProductEvent.
	ProductEvent = domain.ProductEvent
	// EventBase aliases domain.EventBase shared by every family.
	EventBase = domain.EventBase
	// EventRecord aliases the domain union view.
	EventRecord = domain.EventRecord
	// RecordRef aliases domain.RecordRef.
	RecordRef = domain.RecordRef
	// FreeLink aliases domain.FreeLink.
	FreeLink = domain.FreeLink
	// Family aliases domain.Family.
	Family = domain.Family
	// RegistryNumber aliases domain.RegistryNumber.
	RegistryNumber = domain.RegistryNumber
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	simpleReports   map[string]SimpleReport
	investigations  map[string]Investigation
	detectionSheets map[string]DetectionSheet
	zoneSheets      map[string]ZoneSheet
	productEvents   map[string]ProductEvent
	links           []FreeLink
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	SimpleReports   map[string]SimpleReport   `json:"simple_reports"`
	Investigations  map[string]Investigation  `json:"investigations"`
	DetectionSheets map[string]DetectionSheet `json:"detection_sheets"`
	ZoneSheets      map[string]ZoneSheet      `json:"zone_sheets"`
	ProductEvents   map[string]ProductEvent   `json:"product_events"`
	Links           []FreeLink                `json:"links"`
}

func newMemoryState() memoryState {
	return memoryState{
		simpleReports:   make(map[string]SimpleReport),
		investigations:  make(map[string]Investigation),
		detectionSheets: make(map[string]DetectionSheet),
		zoneSheets:      make(map[string]ZoneSheet),
		productEvents:   make(map[string]ProductEvent),
	}
}

func cloneBase(b EventBase) EventBase {
	cp := b
	if len(b.AllowedStructures) != 0 {
		cp.AllowedStructures = append([]string(nil), b.AllowedStructures...)
	}
	if len(b.Contacts) != 0 {
		cp.Contacts = append([]domain.Contact(nil), b.Contacts...)
	}
	return cp
}

func cloneSimpleReport(r SimpleReport) SimpleReport {
	cp := r
	cp.EventBase = cloneBase(r.EventBase)
	return cp
}

func cloneInvestigation(r Investigation) Investigation {
	cp := r
	cp.EventBase = cloneBase(r.EventBase)
	cp.RelatedReportIDs = append([]string(nil), r.RelatedReportIDs...)
	return cp
}

func cloneDetectionSheet(r DetectionSheet) DetectionSheet {
	cp := r
	cp.EventBase = cloneBase(r.EventBase)
	return cp
}

func cloneZoneSheet(r ZoneSheet) ZoneSheet {
	cp := r
	cp.EventBase = cloneBase(r.EventBase)
	return cp
}

func cloneProductEvent(r ProductEvent) ProductEvent {
	cp := r
	cp.EventBase = cloneBase(r.EventBase)
	cp.LotNumbers = append([]string(nil), r.LotNumbers...)
	return cp
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.simpleReports {
		cloned.simpleReports[k] = cloneSimpleReport(v)
	}
	for k, v := range s.investigations {
		cloned.investigations[k] = cloneInvestigation(v)
	}
	for k, v := range s.detectionSheets {
		cloned.detectionSheets[k] = cloneDetectionSheet(v)
	}
	for k, v := range s.zoneSheets {
		cloned.zoneSheets[k] = cloneZoneSheet(v)
	}
	for k, v := range s.productEvents {
		cloned.productEvents[k] = cloneProductEvent(v)
	}
	cloned.links = append([]FreeLink(nil), s.links...)
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		SimpleReports:   make(map[string]SimpleReport, len(state.simpleReports)),
		Investigations:  make(map[string]Investigation, len(state.investigations)),
		DetectionSheets: make(map[string]DetectionSheet, len(state.detectionSheets)),
		ZoneSheets:      make(map[string]ZoneSheet, len(state.zoneSheets)),
		ProductEvents:   make(map[string]ProductEvent, len(state.productEvents)),
		Links:           append([]FreeLink(nil), state.links...),
	}
	for k, v := range state.simpleReports {
		s.SimpleReports[k] = cloneSimpleReport(v)
	}
	for k, v := range state.investigations {
		s.Investigations[k] = cloneInvestigation(v)
	}
	for k, v := range state.detectionSheets {
		s.DetectionSheets[k] = cloneDetectionSheet(v)
	}
	for k, v := range state.zoneSheets {
		s.ZoneSheets[k] = cloneZoneSheet(v)
	}
	for k, v := range state.productEvents {
		s.ProductEvents[k] = cloneProductEvent(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.SimpleReports {
		state.simpleReports[k] = cloneSimpleReport(v)
	}
	for k, v := range s.Investigations {
		state.investigations[k] = cloneInvestigation(v)
	}
	for k, v := range s.DetectionSheets {
		state.detectionSheets[k] = cloneDetectionSheet(v)
	}
	for k, v := range s.ZoneSheets {
		state.zoneSheets[k] = cloneZoneSheet(v)
	}
	for k, v := range s.ProductEvents {
		state.productEvents[k] = cloneProductEvent(v)
	}
	// Links referencing records absent from the snapshot are dropped so a
	// partial import cannot leave dangling edges.
	for _, link := range s.Links {
		if _, ok := findInState(&state, link.A); !ok {
			continue
		}
		if _, ok := findInState(&state, link.B); !ok {
			continue
		}
		state.links = append(state.links, link)
	}
	return state
}

func findInState(state *memoryState, ref RecordRef) (EventRecord, bool) {
	switch ref.Family {
	case domain.FamilySimpleReport:
		if r, ok := state.simpleReports[ref.ID]; ok {
			return cloneSimpleReport(r), true
		}
	case domain.FamilyInvestigation:
		if r, ok := state.investigations[ref.ID]; ok {
			return cloneInvestigation(r), true
		}
	case domain.FamilyDetectionSheet:
		if r, ok := state.detectionSheets[ref.ID]; ok {
			return cloneDetectionSheet(r), true
		}
	case domain.FamilyZoneSheet:
		if r, ok := state.zoneSheets[ref.ID]; ok {
			return cloneZoneSheet(r), true
		}
	case domain.FamilyProductEvent:
		if r, ok := state.productEvents[ref.ID]; ok {
			return cloneProductEvent(r), true
		}
	}
	return nil, false
}

func listFamilyInState(state *memoryState, family Family) []EventRecord {
	var out []EventRecord
	switch family {
	case domain.FamilySimpleReport:
		out = make([]EventRecord, 0, len(state.simpleReports))
		for _, r := range state.simpleReports {
			out = append(out, cloneSimpleReport(r))
		}
	case domain.FamilyInvestigation:
		out = make([]EventRecord, 0, len(state.investigations))
		for _, r := range state.investigations {
			out = append(out, cloneInvestigation(r))
		}
	case domain.FamilyDetectionSheet:
		out = make([]EventRecord, 0, len(state.detectionSheets))
		for _, r := range state.detectionSheets {
			out = append(out, cloneDetectionSheet(r))
		}
	case domain.FamilyZoneSheet:
		out = make([]EventRecord, 0, len(state.zoneSheets))
		for _, r := range state.zoneSheets {
			out = append(out, cloneZoneSheet(r))
		}
	case domain.FamilyProductEvent:
		out = make([]EventRecord, 0, len(state.productEvents))
		for _, r := range state.productEvents {
			out = append(out, cloneProductEvent(r))
		}
	}
	return out
}

// Store provides an in-memory transactional store for the registry.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules
// engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider; used by tests to pin timestamps.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.nowFn = now
	}
}

// Close implements domain.PersistentStore; the memory store has nothing to
// release.
func (s *Store) Close() error { return nil }

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListFamily returns all records of one family within the snapshot.
func (v transactionView) ListFamily(family Family) []EventRecord {
	return listFamilyInState(v.state, family)
}

// FindRecord retrieves a record by reference from the snapshot.
func (v transactionView) FindRecord(ref RecordRef) (EventRecord, bool) {
	return findInState(v.state, ref)
}

// Links returns every free link in the snapshot.
func (v transactionView) Links() []FreeLink {
	return append([]FreeLink(nil), v.state.links...)
}

// LinksFor resolves the opposite endpoints of every link touching ref.
func (v transactionView) LinksFor(ref RecordRef) []RecordRef {
	var out []RecordRef
	for _, link := range v.state.links {
		if other, ok := link.Other(ref); ok {
			out = append(out, other)
		}
	}
	return out
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The single store mutex is what serializes concurrent allocations:
// two creators in the same year cannot interleave, so issued sequences stay
// gap-free and duplicate-free.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := transactionView{state: &tx.state}
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

// FindRecord retrieves a record by reference from committed state.
func (s *Store) FindRecord(_ context.Context, ref RecordRef) (EventRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := findInState(&s.state, ref)
	return record, ok, nil
}

// LinksFor resolves the records linked to ref in committed state.
func (s *Store) LinksFor(_ context.Context, ref RecordRef) ([]RecordRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RecordRef
	for _, link := range s.state.links {
		if other, ok := link.Other(ref); ok {
			out = append(out, other)
		}
	}
	return out, nil
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// AllocateNumber issues the next sequence for the year: the maximum already
// assigned across every listed family plus one. Families with no rows for
// the year contribute zero; unknown families are skipped.
func (tx *transaction) AllocateNumber(families []Family, year int) (RegistryNumber, error) {
	if year <= 0 {
		return RegistryNumber{}, fmt.Errorf("invalid allocation year %d", year)
	}
	maxSeq := 0
	for _, family := range families {
		for _, record := range listFamilyInState(&tx.state, family) {
			n := record.Base().Number
			if n.Year == year && n.Sequence > maxSeq {
				maxSeq = n.Sequence
			}
		}
	}
	return RegistryNumber{Year: year, Sequence: maxSeq + 1}, nil
}

// CreateSimpleReport stores a new report within the transaction.
func (tx *transaction) CreateSimpleReport(r SimpleReport) (SimpleReport, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.simpleReports[r.ID]; exists {
		return SimpleReport{}, fmt.Errorf("simple report %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.simpleReports[r.ID] = cloneSimpleReport(r)
	tx.recordChange(Change{Family: domain.FamilySimpleReport, Action: domain.ActionCreate, After: cloneSimpleReport(r)})
	return cloneSimpleReport(r), nil
}

// UpdateSimpleReport mutates a report's content fields under the
// optimistic-concurrency token.
func (tx *transaction) UpdateSimpleReport(id string, expected time.Time, mutator func(*SimpleReport) error) (SimpleReport, error) {
	current, ok := tx.state.simpleReports[id]
	if !ok {
		return SimpleReport{}, domain.NotFoundError{Family: domain.FamilySimpleReport, ID: id}
	}
	if err := checkToken(domain.FamilySimpleReport, id, expected, current.UpdatedAt); err != nil {
		return SimpleReport{}, err
	}
	before := cloneSimpleReport(current)
	if err := mutator(&current); err != nil {
		return SimpleReport{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	tx.state.simpleReports[id] = cloneSimpleReport(current)
	tx.recordChange(Change{Family: domain.FamilySimpleReport, Action: domain.ActionUpdate, Before: before, After: cloneSimpleReport(current)})
	return cloneSimpleReport(current), nil
}

// CreateInvestigation stores a new investigation.
func (tx *transaction) CreateInvestigation(r Investigation) (Investigation, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.investigations[r.ID]; exists {
		return Investigation{}, fmt.Errorf("investigation %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.investigations[r.ID] = cloneInvestigation(r)
	tx.recordChange(Change{Family: domain.FamilyInvestigation, Action: domain.ActionCreate, After: cloneInvestigation(r)})
	return cloneInvestigation(r), nil
}

// UpdateInvestigation mutates an investigation's content fields.
func (tx *transaction) UpdateInvestigation(id string, expected time.Time, mutator func(*Investigation) error) (Investigation, error) {
	current, ok := tx.state.investigations[id]
	if !ok {
		return Investigation{}, domain.NotFoundError{Family: domain.FamilyInvestigation, ID: id}
	}
	if err := checkToken(domain.FamilyInvestigation, id, expected, current.UpdatedAt); err != nil {
		return Investigation{}, err
	}
	before := cloneInvestigation(current)
	if err := mutator(&current); err != nil {
		return Investigation{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	tx.state.investigations[id] = cloneInvestigation(current)
	tx.recordChange(Change{Family: domain.FamilyInvestigation, Action: domain.ActionUpdate, Before: before, After: cloneInvestigation(current)})
	return cloneInvestigation(current), nil
}

// CreateDetectionSheet stores a new detection sheet.
func (tx *transaction) CreateDetectionSheet(r DetectionSheet) (DetectionSheet, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.detectionSheets[r.ID]; exists {
		return DetectionSheet{}, fmt.Errorf("detection sheet %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.detectionSheets[r.ID] = cloneDetectionSheet(r)
	tx.recordChange(Change{Family: domain.FamilyDetectionSheet, Action: domain.ActionCreate, After: cloneDetectionSheet(r)})
	return cloneDetectionSheet(r), nil
}

// UpdateDetectionSheet mutates a detection sheet's content fields.
func (tx *transaction) UpdateDetectionSheet(id string, expected time.Time, mutator func(*DetectionSheet) error) (DetectionSheet, error) {
	current, ok := tx.state.detectionSheets[id]
	if !ok {
		return DetectionSheet{}, domain.NotFoundError{Family: domain.FamilyDetectionSheet, ID: id}
	}
	if err := checkToken(domain.FamilyDetectionSheet, id, expected, current.UpdatedAt); err != nil {
		return DetectionSheet{}, err
	}
	before := cloneDetectionSheet(current)
	if err := mutator(&current); err != nil {
		return DetectionSheet{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	tx.state.detectionSheets[id] = cloneDetectionSheet(current)
	tx.recordChange(Change{Family: domain.FamilyDetectionSheet, Action: domain.ActionUpdate, Before: before, After: cloneDetectionSheet(current)})
	return cloneDetectionSheet(current), nil
}

// CreateZoneSheet stores a new delimited-zone sheet.
func (tx *transaction) CreateZoneSheet(r ZoneSheet) (ZoneSheet, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.zoneSheets[r.ID]; exists {
		return ZoneSheet{}, fmt.Errorf("zone sheet %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.zoneSheets[r.ID] = cloneZoneSheet(r)
	tx.recordChange(Change{Family: domain.FamilyZoneSheet, Action: domain.ActionCreate, After: cloneZoneSheet(r)})
	return cloneZoneSheet(r), nil
}

// UpdateZoneSheet mutates a zone sheet's content fields.
func (tx *transaction) UpdateZoneSheet(id string, expected time.Time, mutator func(*ZoneSheet) error) (ZoneSheet, error) {
	current, ok := tx.state.zoneSheets[id]
	if !ok {
		return ZoneSheet{}, domain.NotFoundError{Family: domain.FamilyZoneSheet, ID: id}
	}
	if err := checkToken(domain.FamilyZoneSheet, id, expected, current.UpdatedAt); err != nil {
		return ZoneSheet{}, err
	}
	before := cloneZoneSheet(current)
	if err := mutator(&current); err != nil {
		return ZoneSheet{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	tx.state.zoneSheets[id] = cloneZoneSheet(current)
	tx.recordChange(Change{Family: domain.FamilyZoneSheet, Action: domain.ActionUpdate, Before: before, After: cloneZoneSheet(current)})
	return cloneZoneSheet(current), nil
}

// CreateProductEvent stores a new product event.
func (tx *transaction) CreateProductEvent(r ProductEvent) (ProductEvent, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.productEvents[r.ID]; exists {
		return ProductEvent{}, fmt.Errorf("product event %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.productEvents[r.ID] = cloneProductEvent(r)
	tx.recordChange(Change{Family: domain.FamilyProductEvent, Action: domain.ActionCreate, After: cloneProductEvent(r)})
	return cloneProductEvent(r), nil
}

// UpdateProductEvent mutates a product event's content fields.
func (tx *transaction) UpdateProductEvent(id string, expected time.Time, mutator func(*ProductEvent) error) (ProductEvent, error) {
	current, ok := tx.state.productEvents[id]
	if !ok {
		return ProductEvent{}, domain.NotFoundError{Family: domain.FamilyProductEvent, ID: id}
	}
	if err := checkToken(domain.FamilyProductEvent, id, expected, current.UpdatedAt); err != nil {
		return ProductEvent{}, err
	}
	before := cloneProductEvent(current)
	if err := mutator(&current); err != nil {
		return ProductEvent{}, err
	}
	current.EventBase = contentEditBase(before.EventBase, current.EventBase, tx.now)
	tx.state.productEvents[id] = cloneProductEvent(current)
	tx.recordChange(Change{Family: domain.FamilyProductEvent, Action: domain.ActionUpdate, Before: before, After: cloneProductEvent(current)})
	return cloneProductEvent(current), nil
}

// UpdateRecord applies a base mutation (lifecycle, visibility, soft-delete)
// to a record of any family.
func (tx *transaction) UpdateRecord(ref RecordRef, expected time.Time, mutator func(*EventBase) error) (EventRecord, error) {
	switch ref.Family {
	case domain.FamilySimpleReport:
		current, ok := tx.state.simpleReports[ref.ID]
		if !ok {
			return nil, domain.NotFoundError{Family: ref.Family, ID: ref.ID}
		}
		if err := tx.mutateBase(ref, expected, &current.EventBase, func() EventRecord { return cloneSimpleReport(current) }, mutator); err != nil {
			return nil, err
		}
		tx.state.simpleReports[ref.ID] = cloneSimpleReport(current)
		return cloneSimpleReport(current), nil
	case domain.FamilyInvestigation:
		current, ok := tx.state.investigations[ref.ID]
		if !ok {
			return nil, domain.NotFoundError{Family: ref.Family, ID: ref.ID}
		}
		if err := tx.mutateBase(ref, expected, &current.EventBase, func() EventRecord { return cloneInvestigation(current) }, mutator); err != nil {
			return nil, err
		}
		tx.state.investigations[ref.ID] = cloneInvestigation(current)
		return cloneInvestigation(current), nil
	case domain.FamilyDetectionSheet:
		current, ok := tx.state.detectionSheets[ref.ID]
		if !ok {
			return nil, domain.NotFoundError{Family: ref.Family, ID: ref.ID}
		}
		if err := tx.mutateBase(ref, expected, &current.EventBase, func() EventRecord { return cloneDetectionSheet(current) }, mutator); err != nil {
			return nil, err
		}
		tx.state.detectionSheets[ref.ID] = cloneDetectionSheet(current)
		return cloneDetectionSheet(current), nil
	case domain.FamilyZoneSheet:
		current, ok := tx.state.zoneSheets[ref.ID]
		if !ok {
			return nil, domain.NotFoundError{Family: ref.Family, ID: ref.ID}
		}
		if err := tx.mutateBase(ref, expected, &current.EventBase, func() EventRecord { return cloneZoneSheet(current) }, mutator); err != nil {
			return nil, err
		}
		tx.state.zoneSheets[ref.ID] = cloneZoneSheet(current)
		return cloneZoneSheet(current), nil
	case domain.FamilyProductEvent:
		current, ok := tx.state.productEvents[ref.ID]
		if !ok {
			return nil, domain.NotFoundError{Family: ref.Family, ID: ref.ID}
		}
		if err := tx.mutateBase(ref, expected, &current.EventBase, func() EventRecord { return cloneProductEvent(current) }, mutator); err != nil {
			return nil, err
		}
		tx.state.productEvents[ref.ID] = cloneProductEvent(current)
		return cloneProductEvent(current), nil
	}
	return nil, domain.NotFoundError{Family: ref.Family, ID: ref.ID}
}

// mutateBase runs the shared base-mutation flow: token check, before
// capture, mutation, immutable-field restore, change recording.
func (tx *transaction) mutateBase(ref RecordRef, expected time.Time, base *EventBase, snapshot func() EventRecord, mutator func(*EventBase) error) error {
	if err := checkToken(ref.Family, ref.ID, expected, base.UpdatedAt); err != nil {
		return err
	}
	before := snapshot()
	pre := cloneBase(*base)
	if err := mutator(base); err != nil {
		return err
	}
	// Identity fields stay frozen no matter what the mutator did.
	base.ID = pre.ID
	base.CreatorStructure = pre.CreatorStructure
	base.CreatedAt = pre.CreatedAt
	if !pre.Number.IsZero() {
		base.Number = pre.Number
	}
	base.UpdatedAt = tx.now
	tx.recordChange(Change{Family: ref.Family, Action: domain.ActionUpdate, Before: before, After: snapshot()})
	return nil
}

// Link records a symmetric free link; duplicates in either orientation are
// collapsed.
func (tx *transaction) Link(a, b RecordRef) error {
	if _, ok := findInState(&tx.state, a); !ok {
		return domain.NotFoundError{Family: a.Family, ID: a.ID}
	}
	if _, ok := findInState(&tx.state, b); !ok {
		return domain.NotFoundError{Family: b.Family, ID: b.ID}
	}
	for _, link := range tx.state.links {
		if (link.A == a && link.B == b) || (link.A == b && link.B == a) {
			return nil
		}
	}
	tx.state.links = append(tx.state.links, FreeLink{A: a, B: b})
	return nil
}

// Unlink removes a free link regardless of insertion order; absent links
// are a no-op.
func (tx *transaction) Unlink(a, b RecordRef) error {
	kept := tx.state.links[:0]
	for _, link := range tx.state.links {
		if (link.A == a && link.B == b) || (link.A == b && link.B == a) {
			continue
		}
		kept = append(kept, link)
	}
	tx.state.links = kept
	return nil
}

// checkToken compares the optimistic-concurrency token against the stored
// updated_at. A zero expected time skips the check (lifecycle transitions
// are guarded by status instead of the token).
func checkToken(family Family, id string, expected, stored time.Time) error {
	if expected.IsZero() {
		return nil
	}
	if !expected.Equal(stored) {
		return domain.ConflictError{Family: family, ID: id}
	}
	return nil
}

// contentEditBase merges a content edit: family fields come from the
// mutated copy, but the shared base stays as it was except for contacts
// (managed alongside content) and the refreshed updated_at.
func contentEditBase(pre, post EventBase, now time.Time) EventBase {
	merged := cloneBase(pre)
	merged.Contacts = append([]domain.Contact(nil), post.Contacts...)
	merged.UpdatedAt = now
	return merged
}
