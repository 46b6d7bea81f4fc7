package core

import "vigiecore/pkg/domain"

type (
	Family          = domain.Family
	Status          = domain.Status
	Visibility      = domain.Visibility
	RegistryNumber  = domain.RegistryNumber
	EventBase       = domain.EventBase
	EventRecord     = domain.EventRecord
	RecordRef       = domain.RecordRef
	FreeLink        = domain.FreeLink
	SimpleReport    = domain.SimpleReport
	Investigation   = domain.Investigation
	DetectionSheet  = domain.DetectionSheet
	ZoneSheet       = domain.ZoneSheet
	ProductEvent    = domain.ProductEvent
	Actor           = domain.Actor
	Structure       = domain.Structure
	Role            = domain.Role
	Change          = domain.Change
	Action          = domain.Action
	Violation       = domain.Violation
	Result          = domain.Result
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
	Event           = domain.Event
	EventPublisher  = domain.EventPublisher
)

const (
	FamilySimpleReport   = domain.FamilySimpleReport
	FamilyInvestigation  = domain.FamilyInvestigation
	FamilyDetectionSheet = domain.FamilyDetectionSheet
	FamilyZoneSheet      = domain.FamilyZoneSheet
	FamilyProductEvent   = domain.FamilyProductEvent
)

const (
	StatusDraft  = domain.StatusDraft
	StatusActive = domain.StatusActive
	StatusClosed = domain.StatusClosed
)

const (
	VisibilityNone       = domain.VisibilityNone
	VisibilityLocal      = domain.VisibilityLocal
	VisibilityNational   = domain.VisibilityNational
	VisibilityRestricted = domain.VisibilityRestricted
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
