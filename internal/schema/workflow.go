package schema

import "encoding/json"

// Workflow trigger events.
const (
	TriggerCreate = "create"
	TriggerUpdate = "update"
	TriggerDelete = "delete"
)

// WorkflowConditions gates a workflow trigger: every typed condition must
// match the record, and the optional expression must evaluate to true.
type WorkflowConditions struct {
	Conditions []Condition `json:"conditions,omitempty"`
	Expression string      `json:"expression,omitempty"`
}

// WorkflowDefinition binds trigger conditions and opaque action payloads to an
// entity event. Action execution is a collaborator; this engine only decides
// whether a workflow fires.
type WorkflowDefinition struct {
	ID           string             `json:"id,omitempty"`
	EntityID     string             `json:"entity_id,omitempty"`
	Name         string             `json:"name"`
	TriggerEvent string             `json:"trigger_event"`
	Conditions   WorkflowConditions `json:"conditions"`
	Actions      []json.RawMessage  `json:"actions,omitempty"`
	IsActive     bool               `json:"is_active"`
	OrderIndex   int                `json:"order_index,omitempty"`
}
