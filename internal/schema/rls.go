package schema

// RLSCondition is one named row-restriction predicate. Exposed conditions may
// be surfaced to callers as UI hints; enforcement never depends on exposure.
type RLSCondition struct {
	Name      string    `json:"name"`
	Exposed   bool      `json:"exposed,omitempty"`
	Condition Condition `json:"condition"`
}

// RLSConfig is the stored shape of a role's row restrictions.
type RLSConfig struct {
	Combinator string         `json:"combinator,omitempty"` // AND (default) or OR
	Conditions []RLSCondition `json:"conditions"`
}

// RLSDefinition binds a row-restriction config to (entity, role).
type RLSDefinition struct {
	ID       string    `json:"id,omitempty"`
	EntityID string    `json:"entity_id,omitempty"`
	Role     string    `json:"role"`
	ViewID   string    `json:"view_id,omitempty"`
	Config   RLSConfig `json:"rls_config"`
	IsActive bool      `json:"is_active"`
}
