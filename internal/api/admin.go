package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"schemakit/internal/audit"
	"schemakit/internal/engine"
	"schemakit/internal/schema"
	"schemakit/internal/store"
)

// AdminHandler manages the schema catalog: entity definitions, fields,
// permissions, views, workflows and row restrictions are rows in the
// system tables, written here and read back through the registry.
type AdminHandler struct {
	store *store.Store
	svc   *engine.Service
	trail *audit.Trail
}

func NewAdminHandler(st *store.Store, svc *engine.Service) *AdminHandler {
	return &AdminHandler{store: st, svc: svc}
}

// WithTrail attaches an audit trail so /audit has something to read.
func (h *AdminHandler) WithTrail(t *audit.Trail) *AdminHandler {
	h.trail = t
	return h
}

// Audit returns the most recent audit rows for the request tenant.
func (h *AdminHandler) Audit(c *fiber.Ctx) error {
	if h.trail == nil {
		return c.JSON(fiber.Map{"data": []map[string]any{}})
	}
	limit := c.QueryInt("limit", 100)
	rows, err := h.trail.Recent(c.Context(), getTenant(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rows})
}

// entityPayload is the admin wire format for creating or replacing an
// entity definition together with its child configuration.
type entityPayload struct {
	Name        string                        `json:"name"`
	TableName   string                        `json:"table_name"`
	DisplayName string                        `json:"display_name"`
	Description string                        `json:"description"`
	Fields      []schema.FieldDefinition      `json:"fields"`
	Permissions []schema.PermissionDefinition `json:"permissions,omitempty"`
	Views       []schema.ViewDefinition       `json:"views,omitempty"`
	Workflows   []schema.WorkflowDefinition   `json:"workflows,omitempty"`
	RLS         []schema.RLSDefinition        `json:"rls,omitempty"`
}

func (p *entityPayload) validate() error {
	if p.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if p.TableName == "" {
		p.TableName = p.Name
	}
	if len(p.Fields) == 0 {
		return fmt.Errorf("entity needs at least one field")
	}
	seen := make(map[string]bool, len(p.Fields))
	for i := range p.Fields {
		f := &p.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = true
		if f.Type == "" {
			f.Type = "string"
		}
		if !schema.FieldTypes[f.Type] {
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

// ListEntities handles GET /api/_admin/entities
func (h *AdminHandler) ListEntities(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.Context(), h.store.DB,
		`SELECT id, name, table_name, display_name, description, is_active
		 FROM system_entities ORDER BY name`)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// GetEntity handles GET /api/_admin/entities/:name
func (h *AdminHandler) GetEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	tenant := getTenant(c)

	cfg, err := h.svc.Registry().Load(c.Context(), name, tenant)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"entity":      cfg.Entity,
		"fields":      cfg.Fields,
		"permissions": cfg.Permissions,
		"views":       cfg.Views,
		"workflows":   cfg.Workflows,
		"rls":         cfg.RLS,
	}})
}

// CreateEntity handles POST /api/_admin/entities
func (h *AdminHandler) CreateEntity(c *fiber.Ctx) error {
	var payload entityPayload
	if err := c.BodyParser(&payload); err != nil {
		return badRequest("Invalid JSON body")
	}
	if err := payload.validate(); err != nil {
		return &apiError{Code: "VALIDATION_FAILED", Status: 422, Message: err.Error()}
	}

	_, err := store.QueryRow(c.Context(), h.store.DB, fmt.Sprintf(
		`SELECT id FROM system_entities WHERE name = %s`, h.store.Placeholder(1)), payload.Name)
	if err == nil {
		return &apiError{Code: "CONFLICT", Status: 409, Message: "Entity already exists: " + payload.Name}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("check entity %s: %w", payload.Name, err)
	}

	if err := h.writeDefinition(c.Context(), &payload, ""); err != nil {
		return err
	}

	h.svc.Registry().Invalidate(payload.Name, "")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{"name": payload.Name}})
}

// UpdateEntity handles PUT /api/_admin/entities/:name. The child
// configuration is replaced wholesale with what the payload carries.
func (h *AdminHandler) UpdateEntity(c *fiber.Ctx) error {
	name := c.Params("name")

	var payload entityPayload
	if err := c.BodyParser(&payload); err != nil {
		return badRequest("Invalid JSON body")
	}
	payload.Name = name
	if err := payload.validate(); err != nil {
		return &apiError{Code: "VALIDATION_FAILED", Status: 422, Message: err.Error()}
	}

	row, err := store.QueryRow(c.Context(), h.store.DB, fmt.Sprintf(
		`SELECT id FROM system_entities WHERE name = %s`, h.store.Placeholder(1)), name)
	if errors.Is(err, store.ErrNotFound) {
		return &apiError{Code: "UNKNOWN_ENTITY", Status: 404, Message: "Unknown entity: " + name}
	}
	if err != nil {
		return fmt.Errorf("check entity %s: %w", name, err)
	}

	if err := h.writeDefinition(c.Context(), &payload, toStr(row["id"])); err != nil {
		return err
	}

	h.svc.Registry().Invalidate(name, "")
	return c.JSON(fiber.Map{"data": fiber.Map{"name": name}})
}

// DeactivateEntity handles DELETE /api/_admin/entities/:name. The catalog
// row is deactivated; the physical table and its data stay untouched.
func (h *AdminHandler) DeactivateEntity(c *fiber.Ctx) error {
	name := c.Params("name")

	n, err := store.Exec(c.Context(), h.store.DB, fmt.Sprintf(
		`UPDATE system_entities SET is_active = %s, updated_at = %s WHERE name = %s`,
		h.store.Placeholder(1), h.store.Dialect.NowExpr(), h.store.Placeholder(2)),
		false, name)
	if err != nil {
		return fmt.Errorf("deactivate entity %s: %w", name, err)
	}
	if n == 0 {
		return &apiError{Code: "UNKNOWN_ENTITY", Status: 404, Message: "Unknown entity: " + name}
	}

	h.svc.Registry().Invalidate(name, "")
	return c.SendStatus(fiber.StatusNoContent)
}

// EnsureEntity handles POST /api/_admin/entities/:name/ensure: creates or
// extends the physical table for the request's tenant.
func (h *AdminHandler) EnsureEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	tenant := getTenant(c)

	if err := h.svc.EnsureTable(c.Context(), name, tenant); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"name": name, "ensured": true}})
}

// Invalidate handles POST /api/_admin/invalidate. An empty entity or
// tenant matches broadly, so {"entity": "orders"} drops the entry for
// every tenant and {} clears the whole cache.
func (h *AdminHandler) Invalidate(c *fiber.Ctx) error {
	var body struct {
		Entity string `json:"entity"`
		Tenant string `json:"tenant"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return badRequest("Invalid JSON body")
		}
	}
	if body.Tenant == "default" {
		body.Tenant = ""
	}

	h.svc.Registry().Invalidate(body.Entity, body.Tenant)
	return c.JSON(fiber.Map{"data": fiber.Map{"invalidated": true}})
}

// writeDefinition persists the entity and replaces its child rows inside
// one transaction. entityID is empty for a new entity.
func (h *AdminHandler) writeDefinition(ctx context.Context, p *entityPayload, entityID string) error {
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ph := h.store.Placeholder
	if entityID == "" {
		entityID = uuid.NewString()
		_, err = store.Exec(ctx, tx, fmt.Sprintf(
			`INSERT INTO system_entities (id, name, table_name, display_name, description, is_active)
			 VALUES (%s, %s, %s, %s, %s, %s)`,
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6)),
			entityID, p.Name, p.TableName, p.DisplayName, p.Description, true)
	} else {
		_, err = store.Exec(ctx, tx, fmt.Sprintf(
			`UPDATE system_entities SET table_name = %s, display_name = %s, description = %s,
			 is_active = %s, updated_at = %s WHERE id = %s`,
			ph(1), ph(2), ph(3), ph(4), h.store.Dialect.NowExpr(), ph(5)),
			p.TableName, p.DisplayName, p.Description, true, entityID)
	}
	if err != nil {
		return fmt.Errorf("write entity %s: %w", p.Name, err)
	}

	for _, table := range []string{"system_fields", "system_permissions", "system_views", "system_workflows", "system_rls"} {
		if _, err := store.Exec(ctx, tx, fmt.Sprintf(
			`DELETE FROM %s WHERE entity_id = %s`, table, ph(1)), entityID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, f := range p.Fields {
		rules := f.ValidationRules
		if len(rules) == 0 {
			rules = json.RawMessage("[]")
		}
		_, err := store.Exec(ctx, tx, fmt.Sprintf(
			`INSERT INTO system_fields (id, entity_id, name, type, is_required, is_unique,
			 is_primary_key, default_value, validation_rules, display_name, order_index, is_active, reference_entity)
			 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), ph(8), ph(9), ph(10), ph(11), ph(12), ph(13)),
			uuid.NewString(), entityID, f.Name, f.Type, f.IsRequired, f.IsUnique,
			f.IsPrimaryKey, f.DefaultValue, string(rules), f.DisplayName, i, true, f.ReferenceEntity)
		if err != nil {
			return fmt.Errorf("write field %s.%s: %w", p.Name, f.Name, err)
		}
	}

	for _, perm := range p.Permissions {
		conditions, _ := json.Marshal(perm.Conditions)
		fieldPerms, _ := json.Marshal(perm.FieldPermissions)
		_, err := store.Exec(ctx, tx, fmt.Sprintf(
			`INSERT INTO system_permissions (id, entity_id, role, action, conditions, is_allowed, field_permissions)
			 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7)),
			uuid.NewString(), entityID, perm.Role, perm.Action, string(conditions), perm.IsAllowed, string(fieldPerms))
		if err != nil {
			return fmt.Errorf("write permission %s/%s: %w", perm.Role, perm.Action, err)
		}
	}

	for _, view := range p.Views {
		queryConfig, _ := json.Marshal(view.Query)
		fields, _ := json.Marshal(view.Fields)
		_, err := store.Exec(ctx, tx, fmt.Sprintf(
			`INSERT INTO system_views (id, entity_id, name, query_config, fields, is_default, is_public, created_by)
			 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), ph(8)),
			uuid.NewString(), entityID, view.Name, string(queryConfig), string(fields),
			view.IsDefault, view.IsPublic, view.CreatedBy)
		if err != nil {
			return fmt.Errorf("write view %s: %w", view.Name, err)
		}
	}

	for i, wf := range p.Workflows {
		conditions, _ := json.Marshal(wf.Conditions)
		actions, _ := json.Marshal(wf.Actions)
		_, err := store.Exec(ctx, tx, fmt.Sprintf(
			`INSERT INTO system_workflows (id, entity_id, name, trigger_event, conditions, actions, is_active, order_index)
			 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), ph(8)),
			uuid.NewString(), entityID, wf.Name, wf.TriggerEvent, string(conditions), string(actions), wf.IsActive, i)
		if err != nil {
			return fmt.Errorf("write workflow %s: %w", wf.Name, err)
		}
	}

	for _, rls := range p.RLS {
		config, _ := json.Marshal(rls.Config)
		_, err := store.Exec(ctx, tx, fmt.Sprintf(
			`INSERT INTO system_rls (id, entity_id, role, rls_config, is_active)
			 VALUES (%s, %s, %s, %s, %s)`,
			ph(1), ph(2), ph(3), ph(4), ph(5)),
			uuid.NewString(), entityID, rls.Role, string(config), rls.IsActive)
		if err != nil {
			return fmt.Errorf("write rls %s: %w", rls.Role, err)
		}
	}

	return tx.Commit()
}

func toStr(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}
