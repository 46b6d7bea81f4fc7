package domain

import (
	"context"
	"time"
)

// EventType names a domain event emitted by the core after a successful
// commit. The notification collaborator subscribes to these; the core never
// sends email itself.
type EventType string

// Emitted event types.
const (
	EventRecordCreated     EventType = "record_created"
	EventStatusChanged     EventType = "status_changed"
	EventVisibilityChanged EventType = "visibility_changed"
	EventRecordSoftDeleted EventType = "record_soft_deleted"
)

// Event is the envelope handed to publishers.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Family     Family         `json:"family"`
	RecordID   string         `json:"record_id"`
	Number     RegistryNumber `json:"number"`
	Structure  string         `json:"structure"`
	Status     Status         `json:"status"`
	Visibility Visibility     `json:"visibility"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// EventPublisher delivers events to the notification collaborator.
// Publishing happens after commit; delivery failures do not roll back the
// transaction.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher discards events; the default when no collaborator is wired.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }
