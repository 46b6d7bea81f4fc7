// Package domain defines the persistent event families, value types, actor
// model, and rule evaluation primitives shared by the vigiecore registry.
package domain

import (
	"fmt"
	"time"
)

// Family identifies the concrete entity table an event record belongs to.
type Family string

// Registered event families. All families share one per-year numbering
// namespace, one lifecycle, and one visibility policy.
const (
	// FamilySimpleReport identifies an initial report record.
	FamilySimpleReport Family = "simple_report"
	// FamilyInvestigation identifies a full investigation record.
	FamilyInvestigation Family = "investigation"
	// FamilyDetectionSheet identifies a laboratory detection record.
	FamilyDetectionSheet Family = "detection_sheet"
	// FamilyZoneSheet identifies a delimited-zone record.
	FamilyZoneSheet Family = "zone_sheet"
	// FamilyProductEvent identifies a food product event record.
	FamilyProductEvent Family = "product_event"
)

// Families lists every registered family in display order.
func Families() []Family {
	return []Family{
		FamilySimpleReport,
		FamilyInvestigation,
		FamilyDetectionSheet,
		FamilyZoneSheet,
		FamilyProductEvent,
	}
}

// KnownFamily reports whether f names a registered family. Unknown tags are
// tolerated (and ignored) in list filters for forward compatibility.
func KnownFamily(f Family) bool {
	switch f {
	case FamilySimpleReport, FamilyInvestigation, FamilyDetectionSheet, FamilyZoneSheet, FamilyProductEvent:
		return true
	}
	return false
}

// numberPrefixes maps families to the human-facing registry prefix.
var numberPrefixes = map[Family]string{
	FamilySimpleReport:   "SR",
	FamilyInvestigation:  "INV",
	FamilyDetectionSheet: "DET",
	FamilyZoneSheet:      "ZD",
	FamilyProductEvent:   "PRD",
}

// Prefix returns the registry-number prefix for the family.
func (f Family) Prefix() string {
	if p, ok := numberPrefixes[f]; ok {
		return p
	}
	return string(f)
}

// Status represents the shared record lifecycle.
type Status string

// Lifecycle statuses. Draft records are pre-publication and visible only to
// their creating structure; Closed is terminal for content mutation.
const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Visibility is the publication scope of a non-draft record.
type Visibility string

// Publication scopes. VisibilityNone is the zero value carried by drafts,
// which are creator-only regardless of any stored scope.
const (
	VisibilityNone       Visibility = ""
	VisibilityLocal      Visibility = "local"
	VisibilityNational   Visibility = "national"
	VisibilityRestricted Visibility = "restricted"
)

// RegistryNumber is the composite human-facing number shared across all
// families for a given year. It is assigned exactly once, at first durable
// creation, and never reused.
type RegistryNumber struct {
	Year     int `json:"year"`
	Sequence int `json:"sequence"`
}

// IsZero reports whether the number has not been assigned yet.
func (n RegistryNumber) IsZero() bool { return n.Year == 0 && n.Sequence == 0 }

// Render formats the number with the family prefix, e.g. "DET-2025.14".
func (n RegistryNumber) Render(family Family) string {
	return fmt.Sprintf("%s-%d.%d", family.Prefix(), n.Year, n.Sequence)
}

// Compare orders numbers by (year, sequence) ascending.
func (n RegistryNumber) Compare(other RegistryNumber) int {
	switch {
	case n.Year != other.Year:
		if n.Year < other.Year {
			return -1
		}
		return 1
	case n.Sequence != other.Sequence:
		if n.Sequence < other.Sequence {
			return -1
		}
		return 1
	}
	return 0
}

// Contact subscribes an agent or structure to notifications about a record.
// FollowUpEnded marks the "fin de suivi" state consulted before closing.
type Contact struct {
	Ref           string `json:"ref"`
	Structure     bool   `json:"structure"`
	FollowUpEnded bool   `json:"follow_up_ended"`
}

// EventBase contains the fields shared by every event family.
type EventBase struct {
	ID                string         `json:"id"`
	Number            RegistryNumber `json:"number"`
	CreatorStructure  string         `json:"creator_structure"`
	Status            Status         `json:"status"`
	Visibility        Visibility     `json:"visibility"`
	AllowedStructures []string       `json:"allowed_structures"`
	Contacts          []Contact      `json:"contacts"`
	Deleted           bool           `json:"is_deleted"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// HasUnresolvedFollowUp reports whether any contact still tracks the record.
// The close transition is blocked while this holds.
func (b EventBase) HasUnresolvedFollowUp() bool {
	for _, c := range b.Contacts {
		if !c.FollowUpEnded {
			return true
		}
	}
	return false
}

// EventRecord is the union view over the concrete family structs. Family
// structs return their embedded base so the core mechanisms (numbering,
// visibility, lifecycle, listing) stay family-agnostic.
type EventRecord interface {
	Family() Family
	Base() EventBase
	// SearchText returns the family-specific field values matched by the
	// list engine's free-text search, in addition to the rendered number.
	SearchText() []string
	// KeyDate is the family's display date (received, opened, sampled...).
	KeyDate() time.Time
}

// RecordRef addresses a record of any family, used by free links.
type RecordRef struct {
	Family Family `json:"family"`
	ID     string `json:"id"`
}

// FreeLink is a symmetric heterogeneous reference between two records. A
// link stored as (A, B) is resolvable from either side.
type FreeLink struct {
	A RecordRef `json:"a"`
	B RecordRef `json:"b"`
}

// Other returns the opposite endpoint, and whether ref participates at all.
func (l FreeLink) Other(ref RecordRef) (RecordRef, bool) {
	switch ref {
	case l.A:
		return l.B, true
	case l.B:
		return l.A, true
	}
	return RecordRef{}, false
}

// SimpleReport is the initial report family.
type SimpleReport struct {
	EventBase
	SuspectedHazard string    `json:"suspected_hazard"`
	Commodity       string    `json:"commodity"`
	Narrative       string    `json:"narrative"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Family implements EventRecord.
func (SimpleReport) Family() Family { return FamilySimpleReport }

// Base implements EventRecord.
func (r SimpleReport) Base() EventBase { return r.EventBase }

// SearchText implements EventRecord.
func (r SimpleReport) SearchText() []string {
	return []string{r.SuspectedHazard, r.Commodity, r.Narrative}
}

// KeyDate implements EventRecord.
func (r SimpleReport) KeyDate() time.Time { return r.ReceivedAt }

// Investigation is the full investigation family.
type Investigation struct {
	EventBase
	LeadInspector    string    `json:"lead_inspector"`
	Findings         string    `json:"findings"`
	OpenedAt         time.Time `json:"opened_at"`
	RelatedReportIDs []string  `json:"related_report_ids"`
}

// Family implements EventRecord.
func (Investigation) Family() Family { return FamilyInvestigation }

// Base implements EventRecord.
func (r Investigation) Base() EventBase { return r.EventBase }

// SearchText implements EventRecord.
func (r Investigation) SearchText() []string {
	return []string{r.LeadInspector, r.Findings}
}

// KeyDate implements EventRecord.
func (r Investigation) KeyDate() time.Time { return r.OpenedAt }

// DetectionSheet is the laboratory detection family.
type DetectionSheet struct {
	EventBase
	PestName       string    `json:"pest_name"`
	AnalysisMethod string    `json:"analysis_method"`
	LaboratoryRef  string    `json:"laboratory_ref"`
	SampledAt      time.Time `json:"sampled_at"`
}

// Family implements EventRecord.
func (DetectionSheet) Family() Family { return FamilyDetectionSheet }

// Base implements EventRecord.
func (r DetectionSheet) Base() EventBase { return r.EventBase }

// SearchText implements EventRecord.
func (r DetectionSheet) SearchText() []string {
	return []string{r.PestName, r.AnalysisMethod, r.LaboratoryRef}
}

// KeyDate implements EventRecord.
func (r DetectionSheet) KeyDate() time.Time { return r.SampledAt }

// ZoneSheet is the delimited-zone family.
type ZoneSheet struct {
	EventBase
	ZoneName   string    `json:"zone_name"`
	RadiusKM   float64   `json:"radius_km"`
	DeclaredAt time.Time `json:"declared_at"`
}

// Family implements EventRecord.
func (ZoneSheet) Family() Family { return FamilyZoneSheet }

// Base implements EventRecord.
func (r ZoneSheet) Base() EventBase { return r.EventBase }

// SearchText implements EventRecord.
func (r ZoneSheet) SearchText() []string { return []string{r.ZoneName} }

// KeyDate implements EventRecord.
func (r ZoneSheet) KeyDate() time.Time { return r.DeclaredAt }

// ProductEvent is the food product event family.
type ProductEvent struct {
	EventBase
	ProductName     string    `json:"product_name"`
	LotNumbers      []string  `json:"lot_numbers"`
	RecallInitiated bool      `json:"recall_initiated"`
	NotifiedAt      time.Time `json:"notified_at"`
}

// Family implements EventRecord.
func (ProductEvent) Family() Family { return FamilyProductEvent }

// Base implements EventRecord.
func (r ProductEvent) Base() EventBase { return r.EventBase }

// SearchText implements EventRecord.
func (r ProductEvent) SearchText() []string {
	out := []string{r.ProductName}
	return append(out, r.LotNumbers...)
}

// KeyDate implements EventRecord.
func (r ProductEvent) KeyDate() time.Time { return r.NotifiedAt }

// Change describes a mutation applied to a record during a transaction.
type Change struct {
	Family Family
	Action Action
	Before EventRecord
	After  EventRecord
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured in the transaction audit trail. Records are never
// hard-deleted; ActionDelete marks the soft-delete flag being set.
const (
	// ActionCreate indicates a record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Family   Family
	RecordID string
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
