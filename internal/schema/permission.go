package schema

// Actions an entity operation can be authorized for.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// FieldAccess is a per-field read/write override.
type FieldAccess struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// PermissionDefinition is one (entity, role, action) rule. Conditions, when
// present, restrict the rule to records matching them. FieldPermissions
// refine the coarse decision per field.
type PermissionDefinition struct {
	ID               string                 `json:"id,omitempty"`
	EntityID         string                 `json:"entity_id,omitempty"`
	Role             string                 `json:"role"`
	Action           string                 `json:"action"`
	IsAllowed        bool                   `json:"is_allowed"`
	Conditions       []Condition            `json:"conditions,omitempty"`
	FieldPermissions map[string]FieldAccess `json:"field_permissions,omitempty"`
}
