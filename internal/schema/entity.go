package schema

import "encoding/json"

// FieldTypes is the closed set of semantic field types.
var FieldTypes = map[string]bool{
	"string": true, "number": true, "integer": true, "boolean": true,
	"date": true, "datetime": true, "json": true, "array": true, "object": true,
}

// SystemColumns are always present on entity tables, added at creation when
// not declared as fields.
var SystemColumns = []string{"created_at", "updated_at", "created_by", "updated_by"}

// EntityDefinition is the logical table plus display metadata. Identity (ID)
// is immutable; the rest is mutable metadata.
type EntityDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TableName   string `json:"table_name"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// FieldDefinition describes one column of an entity.
type FieldDefinition struct {
	ID              string          `json:"id,omitempty"`
	EntityID        string          `json:"entity_id,omitempty"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	IsRequired      bool            `json:"is_required,omitempty"`
	IsUnique        bool            `json:"is_unique,omitempty"`
	IsPrimaryKey    bool            `json:"is_primary_key,omitempty"`
	DefaultValue    *string         `json:"default_value,omitempty"`
	ValidationRules json.RawMessage `json:"validation_rules,omitempty"`
	DisplayName     string          `json:"display_name,omitempty"`
	OrderIndex      int             `json:"order_index,omitempty"`
	IsActive        bool            `json:"is_active"`
	ReferenceEntity string          `json:"reference_entity,omitempty"`
}

// EntityConfiguration is the in-memory aggregate of everything known about an
// entity: fields, permissions, RLS rules, views and workflows. Built by the
// registry, cached per (entity, tenant), and never handed out half-constructed.
type EntityConfiguration struct {
	Entity      EntityDefinition
	Fields      []FieldDefinition
	Permissions []PermissionDefinition
	RLS         []RLSDefinition
	Views       []ViewDefinition
	Workflows   []WorkflowDefinition
}

// Field returns a pointer to the field with the given name, or nil.
func (c *EntityConfiguration) Field(name string) *FieldDefinition {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has an active field with the given name.
func (c *EntityConfiguration) HasField(name string) bool {
	f := c.Field(name)
	return f != nil && f.IsActive
}

// ActiveFields returns the active fields in declaration order.
func (c *EntityConfiguration) ActiveFields() []FieldDefinition {
	var fields []FieldDefinition
	for _, f := range c.Fields {
		if f.IsActive {
			fields = append(fields, f)
		}
	}
	return fields
}

// PrimaryKeyFields returns the fields flagged as primary key, in order.
func (c *EntityConfiguration) PrimaryKeyFields() []FieldDefinition {
	var pk []FieldDefinition
	for _, f := range c.Fields {
		if f.IsActive && f.IsPrimaryKey {
			pk = append(pk, f)
		}
	}
	return pk
}

// IDColumn is the column used for by-id lookups: the single flagged primary
// key when there is exactly one, otherwise the synthetic "id" column.
func (c *EntityConfiguration) IDColumn() string {
	pk := c.PrimaryKeyFields()
	if len(pk) == 1 {
		return pk[0].Name
	}
	return "id"
}

// View returns the view with the given name, or nil.
func (c *EntityConfiguration) View(name string) *ViewDefinition {
	for i := range c.Views {
		if c.Views[i].Name == name {
			return &c.Views[i]
		}
	}
	return nil
}

// BoolFieldNames returns the names of boolean fields, for dialects that
// return booleans as integers.
func (c *EntityConfiguration) BoolFieldNames() []string {
	var names []string
	for _, f := range c.Fields {
		if f.IsActive && f.Type == "boolean" {
			names = append(names, f.Name)
		}
	}
	return names
}
