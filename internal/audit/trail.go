package audit

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"schemakit/internal/store"
)

var auditColumns = []string{"id", "tenant", "entity", "record_id", "action", "user_id", "status", "duration_ms", "detail"}

// Trail buffers events in memory and flushes them to system_audit in a
// batch insert, either on a timer or when the buffer fills up.
type Trail struct {
	mu     sync.Mutex
	events []Event

	store   *store.Store
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
}

// NewTrail starts a trail that flushes every interval or when maxSize
// events are buffered. Call Stop on shutdown to drain the buffer.
func NewTrail(st *store.Store, maxSize int, interval time.Duration) *Trail {
	t := &Trail{
		store:   st,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	t.ticker = time.NewTicker(interval)
	go t.run()
	return t
}

func (t *Trail) run() {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			t.Flush()
		}
	}
}

// Record buffers an event. A full buffer triggers an async flush.
func (t *Trail) Record(e Event) {
	t.mu.Lock()
	t.events = append(t.events, e)
	full := len(t.events) >= t.maxSize
	t.mu.Unlock()
	if full {
		go t.Flush()
	}
}

// Flush writes all buffered events in a single insert. Failures are
// logged and the batch is dropped; auditing never fails a request.
func (t *Trail) Flush() {
	t.mu.Lock()
	if len(t.events) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.events
	t.events = nil
	t.mu.Unlock()

	var groups []string
	var args []any
	for i, e := range batch {
		offset := i * len(auditColumns)
		ph := make([]string, len(auditColumns))
		for j := range ph {
			ph[j] = t.store.Placeholder(offset + j + 1)
		}
		groups = append(groups, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			uuid.NewString(), e.Tenant, e.Entity, e.RecordID, e.Action,
			e.UserID, e.Status, e.Duration.Milliseconds(), marshalDetail(e.Detail))
	}

	sqlStr := fmt.Sprintf("INSERT INTO system_audit (%s) VALUES %s",
		strings.Join(auditColumns, ", "), strings.Join(groups, ", "))
	if _, err := store.Exec(context.Background(), t.store.DB, sqlStr, args...); err != nil {
		log.Printf("ERROR: audit flush (%d events dropped): %v", len(batch), err)
	}
}

// Recent returns the latest audit rows for a tenant, newest first. An
// empty tenant matches the default tenant, not all tenants.
func (t *Trail) Recent(ctx context.Context, tenant string, limit int) ([]map[string]any, error) {
	t.Flush()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sqlStr := fmt.Sprintf(
		"SELECT id, tenant, entity, record_id, action, user_id, status, duration_ms, detail, created_at FROM system_audit WHERE tenant = %s ORDER BY created_at DESC LIMIT %d",
		t.store.Placeholder(1), limit)
	return store.QueryRows(ctx, t.store.DB, sqlStr, tenant)
}

// Stop halts the flush timer and drains whatever is buffered.
func (t *Trail) Stop() {
	t.ticker.Stop()
	close(t.done)
	t.Flush()
}
