package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vigiecore/pkg/domain"
)

// FollowUpChecker reports whether a record still has unresolved follow-up
// obligations. The close transition is blocked while it returns true. The
// default implementation derives the answer from the record's own contacts;
// deployments may inject the external fin-de-suivi collaborator instead.
type FollowUpChecker interface {
	HasUnresolvedFollowUp(ctx context.Context, ref RecordRef, record EventBase) (bool, error)
}

type contactFollowUpChecker struct{}

func (contactFollowUpChecker) HasUnresolvedFollowUp(_ context.Context, _ RecordRef, record EventBase) (bool, error) {
	return record.HasUnresolvedFollowUp(), nil
}

// Service exposes the registry operations shared by every event family:
// creation with number allocation, lifecycle transitions, visibility
// management, free links, and the cross-family list engine.
type Service struct {
	store     PersistentStore
	publisher EventPublisher
	followUp  FollowUpChecker
	logger    Logger
	metrics   MetricsRecorder
	tracer    Tracer
	nowFn     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher wires the notification collaborator.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithFollowUpChecker injects the external follow-up collaborator.
func WithFollowUpChecker(c FollowUpChecker) Option {
	return func(s *Service) {
		if c != nil {
			s.followUp = c
		}
	}
}

// WithLogger injects the service logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder injects the metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer injects the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the time source used for allocation years.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: domain.NoopPublisher{},
		followUp:  contactFollowUpChecker{},
		logger:    NoopLogger{},
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

func (s *Service) instrument(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	return err
}

func (s *Service) publish(ctx context.Context, events []Event) {
	for _, ev := range events {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("event publish failed", "type", ev.Type, "record", ev.RecordID, "err", err)
		}
	}
}

func (s *Service) newEvent(t domain.EventType, record EventBase, family Family) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Family:     family,
		RecordID:   record.ID,
		Number:     record.Number,
		Structure:  record.CreatorStructure,
		Status:     record.Status,
		Visibility: record.Visibility,
		OccurredAt: s.nowFn(),
	}
}

func notFound(ref RecordRef) error {
	return domain.NotFoundError{Family: ref.Family, ID: ref.ID}
}

// requireActor rejects anonymous callers. Every exposed operation assumes
// an authenticated actor resolved by the identity collaborator.
func requireActor(actor Actor) error {
	if actor.Structure.ID == "" {
		return domain.PermissionError{Op: "call", Structure: "(anonymous)"}
	}
	return nil
}

// prepareCreate stamps the creator and draft status onto a new record base.
func (s *Service) prepareCreate(actor Actor, base *EventBase) {
	base.CreatorStructure = actor.Structure.ID
	base.Status = StatusDraft
	base.Visibility = VisibilityNone
	base.AllowedStructures = nil
	base.Deleted = false
	base.Number = RegistryNumber{}
}

// CreateSimpleReport persists a new report in draft status, allocating
// the next registry number for the current year across all families.
func (s *Service) CreateSimpleReport(ctx context.Context, actor Actor, report SimpleReport) (SimpleReport, Result, error) {
	var created SimpleReport
	var res Result
	err := s.instrument(ctx, "create_simple_report", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		s.prepareCreate(actor, &report.EventBase)
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			number, err := tx.AllocateNumber(domain.Families(), s.nowFn().Year())
			if err != nil {
				return err
			}
			report.Number = number
			created, err = tx.CreateSimpleReport(report)
			return err
		})
		return err
	})
	if err != nil {
		return SimpleReport{}, res, err
	}
	s.publish(ctx, []Event{s.newEvent(domain.EventRecordCreated, created.EventBase, FamilySimpleReport)})
	return created, res, nil
}

// CreateInvestigation persists a new investigation in draft status.
func (s *Service) CreateInvestigation(ctx context.Context, actor Actor, inv Investigation) (Investigation, Result, error) {
	var created Investigation
	var res Result
	err := s.instrument(ctx, "create_investigation", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		s.prepareCreate(actor, &inv.EventBase)
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			number, err := tx.AllocateNumber(domain.Families(), s.nowFn().Year())
			if err != nil {
				return err
			}
			inv.Number = number
			created, err = tx.CreateInvestigation(inv)
			return err
		})
		return err
	})
	if err != nil {
		return Investigation{}, res, err
	}
	s.publish(ctx, []Event{s.newEvent(domain.EventRecordCreated, created.EventBase, FamilyInvestigation)})
	return created, res, nil
}

// CreateDetectionSheet persists a new detection sheet in draft status.
func (s *Service) CreateDetectionSheet(ctx context.Context, actor Actor, sheet DetectionSheet) (DetectionSheet, Result, error) {
	var created DetectionSheet
	var res Result
	err := s.instrument(ctx, "create_detection_sheet", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		s.prepareCreate(actor, &sheet.EventBase)
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			number, err := tx.AllocateNumber(domain.Families(), s.nowFn().Year())
			if err != nil {
				return err
			}
			sheet.Number = number
			created, err = tx.CreateDetectionSheet(sheet)
			return err
		})
		return err
	})
	if err != nil {
		return DetectionSheet{}, res, err
	}
	s.publish(ctx, []Event{s.newEvent(domain.EventRecordCreated, created.EventBase, FamilyDetectionSheet)})
	return created, res, nil
}

// CreateZoneSheet persists a new delimited-zone sheet in draft status.
func (s *Service) CreateZoneSheet(ctx context.Context, actor Actor, sheet ZoneSheet) (ZoneSheet, Result, error) {
	var created ZoneSheet
	var res Result
	err := s.instrument(ctx, "create_zone_sheet", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		s.prepareCreate(actor, &sheet.EventBase)
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			number, err := tx.AllocateNumber(domain.Families(), s.nowFn().Year())
			if err != nil {
				return err
			}
			sheet.Number = number
			created, err = tx.CreateZoneSheet(sheet)
			return err
		})
		return err
	})
	if err != nil {
		return ZoneSheet{}, res, err
	}
	s.publish(ctx, []Event{s.newEvent(domain.EventRecordCreated, created.EventBase, FamilyZoneSheet)})
	return created, res, nil
}

// CreateProductEvent persists a new product event in draft status.
func (s *Service) CreateProductEvent(ctx context.Context, actor Actor, event ProductEvent) (ProductEvent, Result, error) {
	var created ProductEvent
	var res Result
	err := s.instrument(ctx, "create_product_event", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		s.prepareCreate(actor, &event.EventBase)
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			number, err := tx.AllocateNumber(domain.Families(), s.nowFn().Year())
			if err != nil {
				return err
			}
			event.Number = number
			created, err = tx.CreateProductEvent(event)
			return err
		})
		return err
	})
	if err != nil {
		return ProductEvent{}, res, err
	}
	s.publish(ctx, []Event{s.newEvent(domain.EventRecordCreated, created.EventBase, FamilyProductEvent)})
	return created, res, nil
}

// Publish moves a draft to active and sets local visibility. Only the
// creating structure may publish, and only from draft.
func (s *Service) Publish(ctx context.Context, actor Actor, ref RecordRef) (EventRecord, Result, error) {
	var updated EventRecord
	var res Result
	err := s.instrument(ctx, "publish", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateRecord(ref, time.Time{}, func(b *EventBase) error {
				if !domain.CanView(actor, *b) {
					return notFound(ref)
				}
				if b.Deleted {
					return domain.InvalidStateError{Op: "publish", Family: ref.Family, ID: ref.ID, Current: b.Status}
				}
				if b.CreatorStructure != actor.Structure.ID {
					return domain.PermissionError{Op: "publish", Family: ref.Family, ID: ref.ID, Structure: actor.Structure.ID}
				}
				if b.Status != StatusDraft {
					return domain.InvalidStateError{Op: "publish", Family: ref.Family, ID: ref.ID, Current: b.Status}
				}
				b.Status = StatusActive
				b.Visibility = VisibilityLocal
				return nil
			})
			return err
		})
		return err
	})
	if err != nil {
		return nil, res, err
	}
	s.publish(ctx, []Event{s.newEvent(domain.EventStatusChanged, updated.Base(), ref.Family)})
	return updated, res, nil
}

// Close moves an active record to closed. Allowed for the creating
// structure or central administration, provided no unresolved follow-up
// remains.
func (s *Service) Close(ctx context.Context, actor Actor, ref RecordRef) (EventRecord, Result, error) {
	var updated EventRecord
	var res Result
	err := s.instrument(ctx, "close", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateRecord(ref, time.Time{}, func(b *EventBase) error {
				if !domain.CanView(actor, *b) {
					return notFound(ref)
				}
				if b.Deleted {
					return domain.InvalidStateError{Op: "close", Family: ref.Family, ID: ref.ID, Current: b.Status}
				}
				if b.CreatorStructure != actor.Structure.ID && !actor.IsCentralAdministration() {
					return domain.PermissionError{Op: "close", Family: ref.Family, ID: ref.ID, Structure: actor.Structure.ID}
				}
				if b.Status != StatusActive {
					return domain.InvalidStateError{Op: "close", Family: ref.Family, ID: ref.ID, Current: b.Status}
				}
				open, err := s.followUp.HasUnresolvedFollowUp(ctx, ref, *b)
				if err != nil {
					return fmt.Errorf("follow-up check: %w", err)
				}
				if open {
					return domain.PreconditionError{Op: "close", Family: ref.Family, ID: ref.ID, Reason: "unresolved follow-up"}
				}
				b.Status = StatusClosed
				return nil
			})
			return err
		})
		return err
	})
	if err != nil {
		return nil, res, err
	}
	s.publish(ctx, []Event{s.newEvent(domain.EventStatusChanged, updated.Base(), ref.Family)})
	return updated, res, nil
}

// SoftDelete marks a record deleted without changing its status. The record
// stays in storage for audit but drops out of every default query.
func (s *Service) SoftDelete(ctx context.Context, actor Actor, ref RecordRef) (EventRecord, Result, error) {
	var updated EventRecord
	var res Result
	err := s.instrument(ctx, "soft_delete", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateRecord(ref, time.Time{}, func(b *EventBase) error {
				if !domain.CanView(actor, *b) {
					return notFound(ref)
				}
				if b.Deleted {
					return domain.InvalidStateError{Op: "delete", Family: ref.Family, ID: ref.ID, Current: b.Status}
				}
				if b.CreatorStructure != actor.Structure.ID && !actor.IsCentralAdministration() {
					return domain.PermissionError{Op: "delete", Family: ref.Family, ID: ref.ID, Structure: actor.Structure.ID}
				}
				b.Deleted = true
				return nil
			})
			return err
		})
		return err
	})
	if err != nil {
		return nil, res, err
	}
	s.publish(ctx, []Event{s.newEvent(domain.EventRecordSoftDeleted, updated.Base(), ref.Family)})
	return updated, res, nil
}

// Undelete clears the soft-delete flag. Reserved for audit-capable actors.
func (s *Service) Undelete(ctx context.Context, actor Actor, ref RecordRef) (EventRecord, Result, error) {
	var updated EventRecord
	var res Result
	err := s.instrument(ctx, "undelete", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		if !actor.HasRole(domain.RoleAudit) {
			return notFound(ref)
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateRecord(ref, time.Time{}, func(b *EventBase) error {
				if !b.Deleted {
					return domain.InvalidStateError{Op: "undelete", Family: ref.Family, ID: ref.ID, Current: b.Status}
				}
				b.Deleted = false
				return nil
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// UpdateVisibility changes a record's publication scope. Only central
// administration may, never on drafts or closed records, and never the
// creating structure itself. Restricted scope keeps the creator's structure
// in the allowed set unconditionally.
func (s *Service) UpdateVisibility(ctx context.Context, actor Actor, ref RecordRef, visibility Visibility, allowed []string) (EventRecord, Result, error) {
	var updated EventRecord
	var res Result
	err := s.instrument(ctx, "update_visibility", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		switch visibility {
		case VisibilityLocal, VisibilityNational, VisibilityRestricted:
		default:
			return fmt.Errorf("invalid visibility %q", visibility)
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateRecord(ref, time.Time{}, func(b *EventBase) error {
				if !domain.CanView(actor, *b) {
					return notFound(ref)
				}
				if !domain.CanEditVisibility(actor, *b) {
					return domain.PermissionError{Op: "change visibility of", Family: ref.Family, ID: ref.ID, Structure: actor.Structure.ID}
				}
				b.Visibility = visibility
				b.AllowedStructures = domain.NormalizeAllowedStructures(visibility, b.CreatorStructure, allowed)
				return nil
			})
			return err
		})
		return err
	})
	if err != nil {
		return nil, res, err
	}
	s.publish(ctx, []Event{s.newEvent(domain.EventVisibilityChanged, updated.Base(), ref.Family)})
	return updated, res, nil
}

// guardContentEdit applies the shared content-edit gate: the actor must see
// the record, be its creating structure, and the record must still be open.
func guardContentEdit(actor Actor, ref RecordRef, base EventBase) error {
	if !domain.CanView(actor, base) {
		return notFound(ref)
	}
	if base.Deleted {
		return notFound(ref)
	}
	if base.Status == StatusClosed {
		return domain.InvalidStateError{Op: "edit", Family: ref.Family, ID: ref.ID, Current: base.Status}
	}
	if base.CreatorStructure != actor.Structure.ID {
		return domain.PermissionError{Op: "edit", Family: ref.Family, ID: ref.ID, Structure: actor.Structure.ID}
	}
	return nil
}

// requireToken rejects content edits that omit the optimistic-concurrency
// token. Lifecycle transitions pass a zero token by design because they are
// guarded by status instead; content edits must always present the last-read
// updated_at.
func requireToken(ref RecordRef, expected time.Time) error {
	if expected.IsZero() {
		return domain.ConflictError{Family: ref.Family, ID: ref.ID}
	}
	return nil
}

// UpdateSimpleReport edits a report's content fields under the
// optimistic-concurrency token: expected must match the stored updated_at
// or the edit is rejected with a conflict.
func (s *Service) UpdateSimpleReport(ctx context.Context, actor Actor, id string, expected time.Time, mutator func(*SimpleReport) error) (SimpleReport, Result, error) {
	ref := RecordRef{Family: FamilySimpleReport, ID: id}
	var updated SimpleReport
	var res Result
	err := s.instrument(ctx, "update_simple_report", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		if err := requireToken(ref, expected); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateSimpleReport(id, expected, func(r *SimpleReport) error {
				if err := guardContentEdit(actor, ref, r.EventBase); err != nil {
					return err
				}
				return mutator(r)
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// UpdateInvestigation edits an investigation's content fields.
func (s *Service) UpdateInvestigation(ctx context.Context, actor Actor, id string, expected time.Time, mutator func(*Investigation) error) (Investigation, Result, error) {
	ref := RecordRef{Family: FamilyInvestigation, ID: id}
	var updated Investigation
	var res Result
	err := s.instrument(ctx, "update_investigation", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		if err := requireToken(ref, expected); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateInvestigation(id, expected, func(r *Investigation) error {
				if err := guardContentEdit(actor, ref, r.EventBase); err != nil {
					return err
				}
				return mutator(r)
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// UpdateDetectionSheet edits a detection sheet's content fields.
func (s *Service) UpdateDetectionSheet(ctx context.Context, actor Actor, id string, expected time.Time, mutator func(*DetectionSheet) error) (DetectionSheet, Result, error) {
	ref := RecordRef{Family: FamilyDetectionSheet, ID: id}
	var updated DetectionSheet
	var res Result
	err := s.instrument(ctx, "update_detection_sheet", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		if err := requireToken(ref, expected); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateDetectionSheet(id, expected, func(r *DetectionSheet) error {
				if err := guardContentEdit(actor, ref, r.EventBase); err != nil {
					return err
				}
				return mutator(r)
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// UpdateZoneSheet edits a zone sheet's content fields.
func (s *Service) UpdateZoneSheet(ctx context.Context, actor Actor, id string, expected time.Time, mutator func(*ZoneSheet) error) (ZoneSheet, Result, error) {
	ref := RecordRef{Family: FamilyZoneSheet, ID: id}
	var updated ZoneSheet
	var res Result
	err := s.instrument(ctx, "update_zone_sheet", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		if err := requireToken(ref, expected); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateZoneSheet(id, expected, func(r *ZoneSheet) error {
				if err := guardContentEdit(actor, ref, r.EventBase); err != nil {
					return err
				}
				return mutator(r)
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// UpdateProductEvent edits a product event's content fields.
func (s *Service) UpdateProductEvent(ctx context.Context, actor Actor, id string, expected time.Time, mutator func(*ProductEvent) error) (ProductEvent, Result, error) {
	ref := RecordRef{Family: FamilyProductEvent, ID: id}
	var updated ProductEvent
	var res Result
	err := s.instrument(ctx, "update_product_event", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		if err := requireToken(ref, expected); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateProductEvent(id, expected, func(r *ProductEvent) error {
				if err := guardContentEdit(actor, ref, r.EventBase); err != nil {
					return err
				}
				return mutator(r)
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// Get returns a record the actor may view. Unknown ids and invisible
// records yield the same not-found outcome.
func (s *Service) Get(ctx context.Context, actor Actor, ref RecordRef) (EventRecord, error) {
	var record EventRecord
	err := s.instrument(ctx, "get", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		found, ok, err := s.store.FindRecord(ctx, ref)
		if err != nil {
			return err
		}
		if !ok || !domain.CanView(actor, found.Base()) {
			return notFound(ref)
		}
		record = found
		return nil
	})
	return record, err
}

// CanView evaluates the visibility rules for a record id. Detail-view
// collaborators use it to gate 403 vs 200. Unknown ids report false.
func (s *Service) CanView(ctx context.Context, actor Actor, ref RecordRef) (bool, error) {
	var allowed bool
	err := s.instrument(ctx, "can_view", func(ctx context.Context) error {
		found, ok, err := s.store.FindRecord(ctx, ref)
		if err != nil {
			return err
		}
		allowed = ok && domain.CanView(actor, found.Base())
		return nil
	})
	return allowed, err
}

// Link records a symmetric free link between two records of any families.
// The actor must be able to view both endpoints.
func (s *Service) Link(ctx context.Context, actor Actor, a, b RecordRef) (Result, error) {
	var res Result
	err := s.instrument(ctx, "link", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		if a == b {
			return fmt.Errorf("cannot link a record to itself")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			for _, ref := range []RecordRef{a, b} {
				record, ok := view.FindRecord(ref)
				if !ok || !domain.CanView(actor, record.Base()) {
					return notFound(ref)
				}
			}
			return tx.Link(a, b)
		})
		return err
	})
	return res, err
}

// Unlink removes a free link regardless of which side it was stored from.
func (s *Service) Unlink(ctx context.Context, actor Actor, a, b RecordRef) (Result, error) {
	var res Result
	err := s.instrument(ctx, "unlink", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			for _, ref := range []RecordRef{a, b} {
				record, ok := view.FindRecord(ref)
				if !ok || !domain.CanView(actor, record.Base()) {
					return notFound(ref)
				}
			}
			return tx.Unlink(a, b)
		})
		return err
	})
	return res, err
}

// Links resolves the records linked to ref, filtered to those the actor may
// view. The relation is symmetric: a link stored as (A, B) is returned for
// either endpoint.
func (s *Service) Links(ctx context.Context, actor Actor, ref RecordRef) ([]RecordRef, error) {
	var out []RecordRef
	err := s.instrument(ctx, "links", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			record, ok := view.FindRecord(ref)
			if !ok || !domain.CanView(actor, record.Base()) {
				return notFound(ref)
			}
			for _, other := range view.LinksFor(ref) {
				linked, ok := view.FindRecord(other)
				if !ok || !domain.CanView(actor, linked.Base()) {
					continue
				}
				out = append(out, other)
			}
			return nil
		})
	})
	return out, err
}

// List produces one page of the cross-family virtual collection: every
// family's visible records filtered, merged under a total order, and
// paginated over the union.
func (s *Service) List(ctx context.Context, actor Actor, req ListRequest) (Page, error) {
	var page Page
	err := s.instrument(ctx, "list", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			var err error
			page, err = listRecords(actor, view, req)
			return err
		})
	})
	return page, err
}
