package audit_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wholesale-fulfillment/internal/audit"
	"wholesale-fulfillment/internal/config"
	"wholesale-fulfillment/internal/core"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	events  []core.AuditEvent
	ids     map[uuid.UUID]bool
	fail    error
	release chan struct{}
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{ids: map[uuid.UUID]bool{}}
}

func (w *fakeWriter) Write(ctx context.Context, id uuid.UUID, event core.AuditEvent) error {
	if w.release != nil {
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.ids[id] = true
	w.events = append(w.events, event)
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func event(action string) core.AuditEvent {
	return core.AuditEvent{Action: action, EntityType: "order", EntityID: "1", At: time.Now()}
}

func TestDispatcher_DrainsOnClose(t *testing.T) {
	w := newFakeWriter()
	d := audit.NewDispatcher(w, 16, nil)

	for i := 0; i < 10; i++ {
		d.Record(event("order.create"))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 10, w.count())
	assert.Len(t, w.ids, 10)
}

func TestDispatcher_RecordNeverBlocks(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger("info")
	logger.SetOutput(&buf)

	w := newFakeWriter()
	w.release = make(chan struct{})
	d := audit.NewDispatcher(w, 1, logger)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Record(event("order.prepare"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled writer")
	}
	assert.Contains(t, buf.String(), "audit queue full")
	assert.Contains(t, buf.String(), `"component":"audit"`)

	close(w.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Less(t, w.count(), 50)
}

func TestDispatcher_WriteFailureIsIsolated(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger("info")
	logger.SetOutput(&buf)

	w := newFakeWriter()
	w.fail = errors.New("insert failed")
	d := audit.NewDispatcher(w, 4, logger)

	d.Record(event("invoice.payment"))
	require.NoError(t, d.Close(context.Background()))

	assert.Contains(t, buf.String(), "insert failed")
	assert.Contains(t, buf.String(), `"action":"invoice.payment"`)
}

func TestDispatcher_RecordAfterCloseIsDropped(t *testing.T) {
	w := newFakeWriter()
	d := audit.NewDispatcher(w, 4, nil)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() { d.Record(event("order.cancel")) })
	assert.Equal(t, 0, w.count())
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	w := newFakeWriter()
	w.release = make(chan struct{})
	defer close(w.release)
	d := audit.NewDispatcher(w, 4, nil)
	d.Record(event("order.ship"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}
