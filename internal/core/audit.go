package core

import (
	"strconv"
	"time"
)

// AuditEvent is one business fact handed to the audit side channel after commit.
type AuditEvent struct {
	Action     string
	EntityType string
	EntityID   string
	Actor      Actor
	Details    map[string]any
	At         time.Time
}

// AuditSink accepts events fire-and-forget. Record must not block and
// must never report failure to the caller.
type AuditSink interface {
	Record(event AuditEvent)
}

type discardAudit struct{}

func (discardAudit) Record(AuditEvent) {}

// DiscardAudit drops every event.
var DiscardAudit AuditSink = discardAudit{}

func auditSinkOrDiscard(s AuditSink) AuditSink {
	if s == nil {
		return DiscardAudit
	}
	return s
}

func newAuditEvent(action, entityType string, entityID int, actor Actor, details map[string]any) AuditEvent {
	return AuditEvent{
		Action:     action,
		EntityType: entityType,
		EntityID:   strconv.Itoa(entityID),
		Actor:      actor,
		Details:    details,
		At:         time.Now(),
	}
}
