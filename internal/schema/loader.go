package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// loadConfiguration assembles the aggregate from the system catalog: the
// entity row, then fields, permissions, views, workflows and RLS rules.
// Every stored condition is validated here so malformed catalog rows fail
// the load instead of surfacing at query-build time.
func (r *Registry) loadConfiguration(ctx context.Context, entityName, tenant string) (*EntityConfiguration, error) {
	cfg := &EntityConfiguration{}

	query := fmt.Sprintf(
		`SELECT id, name, table_name, display_name, description, is_active
		 FROM system_entities WHERE name = %s`, r.placeholder(1))
	err := r.db.QueryRowContext(ctx, query, entityName).Scan(
		&cfg.Entity.ID, &cfg.Entity.Name, &cfg.Entity.TableName,
		&cfg.Entity.DisplayName, &cfg.Entity.Description, &cfg.Entity.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, &LoadError{Entity: entityName, Tenant: tenant, Reason: "entity not found"}
	}
	if err != nil {
		return nil, &LoadError{Entity: entityName, Tenant: tenant, Err: err}
	}

	if cfg.Fields, err = r.loadFields(ctx, cfg.Entity.ID); err != nil {
		return nil, &LoadError{Entity: entityName, Tenant: tenant, Err: err}
	}
	if cfg.Permissions, err = r.loadPermissions(ctx, cfg.Entity.ID); err != nil {
		return nil, &LoadError{Entity: entityName, Tenant: tenant, Err: err}
	}
	if cfg.Views, err = r.loadViews(ctx, cfg.Entity.ID); err != nil {
		return nil, &LoadError{Entity: entityName, Tenant: tenant, Err: err}
	}
	if cfg.Workflows, err = r.loadWorkflows(ctx, cfg.Entity.ID); err != nil {
		return nil, &LoadError{Entity: entityName, Tenant: tenant, Err: err}
	}
	if cfg.RLS, err = r.loadRLS(ctx, cfg.Entity.ID); err != nil {
		return nil, &LoadError{Entity: entityName, Tenant: tenant, Err: err}
	}

	return cfg, nil
}

func (r *Registry) loadFields(ctx context.Context, entityID string) ([]FieldDefinition, error) {
	query := fmt.Sprintf(
		`SELECT id, entity_id, name, type, is_required, is_unique, is_primary_key,
		        default_value, validation_rules, display_name, order_index, is_active,
		        reference_entity
		 FROM system_fields WHERE entity_id = %s ORDER BY order_index, name`, r.placeholder(1))
	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	var fields []FieldDefinition
	seen := make(map[string]bool)
	for rows.Next() {
		var f FieldDefinition
		var defaultValue sql.NullString
		var rules []byte
		if err := rows.Scan(&f.ID, &f.EntityID, &f.Name, &f.Type, &f.IsRequired,
			&f.IsUnique, &f.IsPrimaryKey, &defaultValue, &rules, &f.DisplayName,
			&f.OrderIndex, &f.IsActive, &f.ReferenceEntity); err != nil {
			return nil, fmt.Errorf("scan field row: %w", err)
		}
		if defaultValue.Valid {
			f.DefaultValue = &defaultValue.String
		}
		if len(rules) > 0 {
			f.ValidationRules = json.RawMessage(rules)
		}
		if !FieldTypes[f.Type] {
			return nil, fmt.Errorf("field %s has unknown type %q", f.Name, f.Type)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = true
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (r *Registry) loadPermissions(ctx context.Context, entityID string) ([]PermissionDefinition, error) {
	query := fmt.Sprintf(
		`SELECT id, role, action, conditions, is_allowed, field_permissions
		 FROM system_permissions WHERE entity_id = %s`, r.placeholder(1))
	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	var perms []PermissionDefinition
	for rows.Next() {
		var p PermissionDefinition
		var conditions, fieldPerms []byte
		if err := rows.Scan(&p.ID, &p.Role, &p.Action, &conditions, &p.IsAllowed, &fieldPerms); err != nil {
			return nil, fmt.Errorf("scan permission row: %w", err)
		}
		p.EntityID = entityID
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
				return nil, fmt.Errorf("permission %s: invalid conditions JSON: %w", p.ID, err)
			}
		}
		for _, c := range p.Conditions {
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("permission %s: %w", p.ID, err)
			}
		}
		if len(fieldPerms) > 0 {
			if err := json.Unmarshal(fieldPerms, &p.FieldPermissions); err != nil {
				return nil, fmt.Errorf("permission %s: invalid field_permissions JSON: %w", p.ID, err)
			}
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *Registry) loadViews(ctx context.Context, entityID string) ([]ViewDefinition, error) {
	query := fmt.Sprintf(
		`SELECT id, name, query_config, fields, is_default, is_public, created_by
		 FROM system_views WHERE entity_id = %s ORDER BY name`, r.placeholder(1))
	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query views: %w", err)
	}
	defer rows.Close()

	var views []ViewDefinition
	for rows.Next() {
		var v ViewDefinition
		var queryConfig, fields []byte
		if err := rows.Scan(&v.ID, &v.Name, &queryConfig, &fields, &v.IsDefault, &v.IsPublic, &v.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan view row: %w", err)
		}
		v.EntityID = entityID
		if len(queryConfig) > 0 {
			if err := json.Unmarshal(queryConfig, &v.Query); err != nil {
				return nil, fmt.Errorf("view %s: invalid query_config JSON: %w", v.Name, err)
			}
		}
		for _, c := range v.Query.Filters {
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("view %s: %w", v.Name, err)
			}
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &v.Fields); err != nil {
				return nil, fmt.Errorf("view %s: invalid fields JSON: %w", v.Name, err)
			}
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func (r *Registry) loadWorkflows(ctx context.Context, entityID string) ([]WorkflowDefinition, error) {
	query := fmt.Sprintf(
		`SELECT id, name, trigger_event, conditions, actions, is_active, order_index
		 FROM system_workflows WHERE entity_id = %s ORDER BY order_index, name`, r.placeholder(1))
	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []WorkflowDefinition
	for rows.Next() {
		var w WorkflowDefinition
		var conditions, actions []byte
		if err := rows.Scan(&w.ID, &w.Name, &w.TriggerEvent, &conditions, &actions, &w.IsActive, &w.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan workflow row: %w", err)
		}
		w.EntityID = entityID
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &w.Conditions); err != nil {
				return nil, fmt.Errorf("workflow %s: invalid conditions JSON: %w", w.Name, err)
			}
		}
		for _, c := range w.Conditions.Conditions {
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("workflow %s: %w", w.Name, err)
			}
		}
		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &w.Actions); err != nil {
				return nil, fmt.Errorf("workflow %s: invalid actions JSON: %w", w.Name, err)
			}
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

func (r *Registry) loadRLS(ctx context.Context, entityID string) ([]RLSDefinition, error) {
	query := fmt.Sprintf(
		`SELECT id, role, view_id, rls_config, is_active
		 FROM system_rls WHERE entity_id = %s`, r.placeholder(1))
	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query rls: %w", err)
	}
	defer rows.Close()

	var defs []RLSDefinition
	for rows.Next() {
		var d RLSDefinition
		var viewID sql.NullString
		var config []byte
		if err := rows.Scan(&d.ID, &d.Role, &viewID, &config, &d.IsActive); err != nil {
			return nil, fmt.Errorf("scan rls row: %w", err)
		}
		d.EntityID = entityID
		d.ViewID = viewID.String
		if len(config) > 0 {
			if err := json.Unmarshal(config, &d.Config); err != nil {
				return nil, fmt.Errorf("rls %s: invalid rls_config JSON: %w", d.ID, err)
			}
		}
		for _, rc := range d.Config.Conditions {
			if err := rc.Condition.Validate(); err != nil {
				return nil, fmt.Errorf("rls %s: %w", d.ID, err)
			}
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}
