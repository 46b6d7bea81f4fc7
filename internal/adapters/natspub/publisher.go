// Package natspub publishes registry events to NATS subjects so the
// notification collaborator can react without the core knowing about email
// or any other delivery channel.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"vigiecore/pkg/domain"
)

var _ domain.EventPublisher = (*Publisher)(nil)

// DefaultSubjectPrefix is prepended to every event subject.
const DefaultSubjectPrefix = "vigiecore.events"

// Publisher delivers events as JSON messages on per-type subjects, e.g.
// vigiecore.events.record_created.simple_report.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// New wraps an established NATS connection. An empty prefix falls back to
// DefaultSubjectPrefix.
func New(conn *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Connect dials the NATS server at url and returns a ready publisher.
func Connect(url, prefix string) (*Publisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("vigiecore"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return New(conn, prefix), nil
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(event domain.Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, event.Type, event.Family)
}

// Publish implements domain.EventPublisher.
func (p *Publisher) Publish(_ context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event), payload); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// Close drains the underlying connection.
func (p *Publisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}
