// Package audit persists business events off the request path.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wholesale-fulfillment/internal/core"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Writer stores one audit event.
type Writer interface {
	Write(ctx context.Context, id uuid.UUID, event core.AuditEvent) error
}

// PGWriter inserts events into audit_logs.
type PGWriter struct {
	pool *pgxpool.Pool
}

func NewPGWriter(pool *pgxpool.Pool) *PGWriter {
	return &PGWriter{pool: pool}
}

func (w *PGWriter) Write(ctx context.Context, id uuid.UUID, event core.AuditEvent) error {
	details := []byte("{}")
	if event.Details != nil {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = b
	}

	var actorID *int
	var actorRole *string
	if event.Actor.ID != 0 {
		actorID = &event.Actor.ID
		role := string(event.Actor.Role)
		actorRole = &role
	}

	_, err := w.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, actor_id, actor_role, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, event.Action, event.EntityType, event.EntityID, actorID, actorRole, details, event.At)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Dispatcher is a core.AuditSink backed by a bounded queue and one worker.
// A full queue drops the event; write failures are logged and dropped.
type Dispatcher struct {
	writer       Writer
	queue        chan core.AuditEvent
	logger       *logrus.Entry
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(writer Writer, buffer int, logger *logrus.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d := &Dispatcher{
		writer:       writer,
		queue:        make(chan core.AuditEvent, buffer),
		logger:       logger.WithField("component", "audit"),
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}
	go d.run()
	return d
}

// Record enqueues event without blocking.
func (d *Dispatcher) Record(event core.AuditEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.WithField("action", event.Action).Warn("audit dispatcher closed; event dropped")
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.WithFields(logrus.Fields{
			"action":      event.Action,
			"entity_type": event.EntityType,
			"entity_id":   event.EntityID,
		}).Warn("audit queue full; event dropped")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		d.write(event)
	}
}

func (d *Dispatcher) write(event core.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("panic", r).Error("audit writer panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()

	id := uuid.New()
	if err := d.writer.Write(ctx, id, event); err != nil {
		d.logger.WithFields(logrus.Fields{
			"audit_id":    id.String(),
			"action":      event.Action,
			"entity_type": event.EntityType,
			"entity_id":   event.EntityID,
		}).Error(err.Error())
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit queue not drained: %w", ctx.Err())
	}
}
