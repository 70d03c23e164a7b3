package schema

// ViewJoin describes one join of a view template.
type ViewJoin struct {
	Table      string `json:"table"`
	Alias      string `json:"alias,omitempty"`
	Type       string `json:"type,omitempty"` // "left" (default) or "inner"
	LeftField  string `json:"left_field"`
	RightField string `json:"right_field"`
}

// ViewSort is a default sort entry of a view template.
type ViewSort struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"`
}

// ViewQueryConfig is the stored query template of a view. Fixed filters are
// always applied; callers may add filters but never remove these.
type ViewQueryConfig struct {
	Filters []Condition `json:"filters,omitempty"`
	Joins   []ViewJoin  `json:"joins,omitempty"`
	Sort    []ViewSort  `json:"sort,omitempty"`
}

// ViewDefinition is a named, read-only query template for an entity.
type ViewDefinition struct {
	ID        string          `json:"id,omitempty"`
	EntityID  string          `json:"entity_id,omitempty"`
	Name      string          `json:"name"`
	Query     ViewQueryConfig `json:"query_config"`
	Fields    []string        `json:"fields,omitempty"` // projection; empty means all
	IsDefault bool            `json:"is_default,omitempty"`
	IsPublic  bool            `json:"is_public,omitempty"`
	CreatedBy string          `json:"created_by,omitempty"`
}
