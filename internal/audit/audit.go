// Package audit records engine write operations into the system_audit
// catalog table. Recording is asynchronous so a slow audit insert never
// sits on the request path.
package audit

import (
	"encoding/json"
	"time"
)

// Event is one recorded engine operation.
type Event struct {
	Tenant   string
	Entity   string
	Action   string
	RecordID string
	UserID   string
	Status   string
	Duration time.Duration
	Detail   map[string]any
}

// Recorder accepts events. Implementations must not block the caller.
type Recorder interface {
	Record(Event)
}

// Noop discards every event. Used when auditing is disabled.
type Noop struct{}

func (Noop) Record(Event) {}

func marshalDetail(detail map[string]any) any {
	if detail == nil {
		return nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil
	}
	return string(b)
}
