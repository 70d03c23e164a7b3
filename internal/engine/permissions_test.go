package engine

import (
	"reflect"
	"testing"

	"schemakit/internal/schema"
)

func permCfg(perms ...schema.PermissionDefinition) *schema.EntityConfiguration {
	return &schema.EntityConfiguration{
		Entity:      schema.EntityDefinition{Name: "orders", TableName: "orders"},
		Permissions: perms,
	}
}

func TestAuthorize_NilUserDenied(t *testing.T) {
	cfg := permCfg(schema.PermissionDefinition{Role: "viewer", Action: "read", IsAllowed: true})
	dec := Authorize(cfg, nil, "read", nil)
	if dec.Allowed {
		t.Fatal("nil user must be denied")
	}
}

func TestAuthorize_DefaultDeny(t *testing.T) {
	cfg := permCfg()
	user := &schema.UserContext{ID: "u1", Roles: []string{"viewer"}}
	if dec := Authorize(cfg, user, "read", nil); dec.Allowed {
		t.Fatal("no matching permission must mean deny")
	}
}

func TestAuthorize_AllowByRole(t *testing.T) {
	cfg := permCfg(schema.PermissionDefinition{Role: "viewer", Action: "read", IsAllowed: true})
	user := &schema.UserContext{ID: "u1", Roles: []string{"viewer"}}
	if dec := Authorize(cfg, user, "read", nil); !dec.Allowed {
		t.Fatal("matching allow must grant access")
	}

	// same permission, different action
	if dec := Authorize(cfg, user, "delete", nil); dec.Allowed {
		t.Fatal("allow for read must not grant delete")
	}

	// same action, role the user does not hold
	other := &schema.UserContext{ID: "u2", Roles: []string{"guest"}}
	if dec := Authorize(cfg, other, "read", nil); dec.Allowed {
		t.Fatal("allow must not apply to other roles")
	}
}

func TestAuthorize_DenyWinsOverAllow(t *testing.T) {
	cfg := permCfg(
		schema.PermissionDefinition{Role: "viewer", Action: "read", IsAllowed: true},
		schema.PermissionDefinition{Role: "contractor", Action: "read", IsAllowed: false},
	)
	user := &schema.UserContext{ID: "u1", Roles: []string{"viewer", "contractor"}}
	if dec := Authorize(cfg, user, "read", nil); dec.Allowed {
		t.Fatal("explicit deny must beat a matching allow")
	}
}

func TestAuthorize_RecordConditions(t *testing.T) {
	cfg := permCfg(schema.PermissionDefinition{
		Role: "editor", Action: "update", IsAllowed: true,
		Conditions: []schema.Condition{
			{Field: "status", Operator: schema.OpEq, Value: "draft"},
		},
	})
	user := &schema.UserContext{ID: "u1", Roles: []string{"editor"}}

	draft := map[string]any{"status": "draft"}
	if dec := Authorize(cfg, user, "update", draft); !dec.Allowed {
		t.Fatal("conditioned allow must match a draft record")
	}

	published := map[string]any{"status": "published"}
	if dec := Authorize(cfg, user, "update", published); dec.Allowed {
		t.Fatal("conditioned allow must not match a published record")
	}

	// nil record skips condition evaluation; the coarse decision stands
	if dec := Authorize(cfg, user, "update", nil); !dec.Allowed {
		t.Fatal("nil record must skip condition checks")
	}
}

func TestAuthorize_FieldMaskMergeAndDenyWins(t *testing.T) {
	cfg := permCfg(
		schema.PermissionDefinition{
			Role: "viewer", Action: "read", IsAllowed: true,
			FieldPermissions: map[string]schema.FieldAccess{
				"salary": {Read: true, Write: false},
			},
		},
		schema.PermissionDefinition{
			Role: "auditor", Action: "read", IsAllowed: true,
			FieldPermissions: map[string]schema.FieldAccess{
				"salary": {Read: false, Write: false},
			},
		},
	)
	user := &schema.UserContext{ID: "u1", Roles: []string{"viewer", "auditor"}}
	dec := Authorize(cfg, user, "read", nil)
	if !dec.Allowed {
		t.Fatal("expected entity-level allow")
	}
	if dec.CanRead("salary") {
		t.Fatal("explicit field deny must win across definitions")
	}
	if !dec.CanRead("name") {
		t.Fatal("fields without overrides inherit the entity decision")
	}
}

func TestApplyReadMask(t *testing.T) {
	dec := Decision{
		Allowed: true,
		FieldMask: map[string]schema.FieldAccess{
			"salary": {Read: false},
		},
	}
	rows := []map[string]any{
		{"name": "a", "salary": 100},
		{"name": "b", "salary": 200},
	}
	ApplyReadMask(dec, rows)
	for _, row := range rows {
		if _, ok := row["salary"]; ok {
			t.Fatalf("salary should be masked: %v", row)
		}
		if _, ok := row["name"]; !ok {
			t.Fatalf("name should survive: %v", row)
		}
	}
}

func TestCheckWriteMask(t *testing.T) {
	dec := Decision{
		Allowed: true,
		FieldMask: map[string]schema.FieldAccess{
			"salary": {Read: true, Write: false},
			"role":   {Read: true, Write: false},
		},
	}
	denied := CheckWriteMask(dec, map[string]any{"salary": 1, "role": "x", "name": "ok"})
	if !reflect.DeepEqual(denied, []string{"role", "salary"}) {
		t.Fatalf("unexpected denied set: %v", denied)
	}
	if denied := CheckWriteMask(dec, map[string]any{"name": "ok"}); denied != nil {
		t.Fatalf("expected no denials, got %v", denied)
	}
}

func TestConditionMatches_Operators(t *testing.T) {
	record := map[string]any{
		"status": "open",
		"total":  float64(150),
		"region": nil,
		"tags":   []any{"a", "b"},
	}

	tests := []struct {
		name string
		cond schema.Condition
		want bool
	}{
		{"eq true", schema.Condition{Field: "status", Operator: schema.OpEq, Value: "open"}, true},
		{"eq false", schema.Condition{Field: "status", Operator: schema.OpEq, Value: "closed"}, false},
		{"neq", schema.Condition{Field: "status", Operator: schema.OpNeq, Value: "closed"}, true},
		{"gt", schema.Condition{Field: "total", Operator: schema.OpGt, Value: 100}, true},
		{"lte false", schema.Condition{Field: "total", Operator: schema.OpLte, Value: 100}, false},
		{"in", schema.Condition{Field: "status", Operator: schema.OpIn, Value: []any{"open", "held"}}, true},
		{"nin", schema.Condition{Field: "status", Operator: schema.OpNin, Value: []any{"closed"}}, true},
		{"isnull", schema.Condition{Field: "region", Operator: schema.OpIsNull}, true},
		{"isnotnull", schema.Condition{Field: "status", Operator: schema.OpIsNotNull}, true},
		{"contains", schema.Condition{Field: "status", Operator: schema.OpContains, Value: "pe"}, true},
		{"startswith", schema.Condition{Field: "status", Operator: schema.OpStartsWith, Value: "op"}, true},
		{"endswith false", schema.Condition{Field: "status", Operator: schema.OpEndsWith, Value: "op"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := conditionMatches(tt.cond, record); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
