// Package events publishes pipeline lifecycle events to NATS so downstream
// automation (release announcements, dashboards) can react without polling.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kata-ci/staticbuild/internal/logfields"
)

// DefaultSubject is the subject run events are published on.
const DefaultSubject = "staticbuild.runs"

// EventType enumerates the run lifecycle events.
type EventType string

const (
	RunStarted   EventType = "run-started"
	RunCompleted EventType = "run-completed"
	RunFailed    EventType = "run-failed"
)

// RunEvent is the wire payload of one lifecycle event.
type RunEvent struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Arch      string    `json:"arch"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes run events. A nil Publisher is valid and drops every
// event, so callers never need to branch on whether eventing is configured.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials NATS and returns a Publisher on the given subject. An empty
// subject selects DefaultSubject.
func Connect(url, subject string) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("Event publisher connected", slog.String("url", url), slog.String("subject", subject))
	return &Publisher{conn: conn, subject: subject}, nil
}

// Publish emits one event. Publish failures are logged, never fatal: eventing
// is an observer of the pipeline, not a participant.
func (p *Publisher) Publish(ev RunEvent) {
	if p == nil || p.conn == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to marshal run event", logfields.Error(err))
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		slog.Warn("Failed to publish run event", logfields.RunID(ev.RunID), logfields.Error(err))
	}
}

// Close drains and closes the underlying connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
