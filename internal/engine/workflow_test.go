package engine

import (
	"testing"

	"schemakit/internal/schema"
)

func workflowCfg(wfs ...schema.WorkflowDefinition) *schema.EntityConfiguration {
	return &schema.EntityConfiguration{
		Entity:    schema.EntityDefinition{Name: "orders", TableName: "orders"},
		Workflows: wfs,
	}
}

func TestEvaluateTriggers_EventAndActivity(t *testing.T) {
	cfg := workflowCfg(
		schema.WorkflowDefinition{Name: "on-create", TriggerEvent: schema.TriggerCreate, IsActive: true},
		schema.WorkflowDefinition{Name: "on-update", TriggerEvent: schema.TriggerUpdate, IsActive: true},
		schema.WorkflowDefinition{Name: "disabled", TriggerEvent: schema.TriggerCreate, IsActive: false},
	)
	eval := NewExprEvaluator()

	matches := EvaluateTriggers(eval, cfg, "", schema.TriggerCreate, map[string]any{}, nil)
	if len(matches) != 1 || matches[0].Workflow.Name != "on-create" {
		t.Fatalf("expected only on-create, got %+v", matches)
	}
	if matches[0].Event != schema.TriggerCreate {
		t.Fatalf("event not carried: %s", matches[0].Event)
	}
}

func TestEvaluateTriggers_TypedConditions(t *testing.T) {
	cfg := workflowCfg(schema.WorkflowDefinition{
		Name: "big-order", TriggerEvent: schema.TriggerCreate, IsActive: true,
		Conditions: schema.WorkflowConditions{
			Conditions: []schema.Condition{
				{Field: "total", Operator: schema.OpGt, Value: 1000},
			},
		},
	})
	eval := NewExprEvaluator()

	if m := EvaluateTriggers(eval, cfg, "", schema.TriggerCreate, map[string]any{"total": float64(1500)}, nil); len(m) != 1 {
		t.Fatalf("expected a match for a big order, got %+v", m)
	}
	if m := EvaluateTriggers(eval, cfg, "", schema.TriggerCreate, map[string]any{"total": float64(10)}, nil); len(m) != 0 {
		t.Fatalf("expected no match for a small order, got %+v", m)
	}
}

func TestEvaluateTriggers_Expression(t *testing.T) {
	cfg := workflowCfg(schema.WorkflowDefinition{
		Name: "status-flip", TriggerEvent: schema.TriggerUpdate, IsActive: true,
		Conditions: schema.WorkflowConditions{
			Expression: `record.status == "shipped" && old.status != "shipped"`,
		},
	})
	eval := NewExprEvaluator()

	record := map[string]any{"status": "shipped"}
	old := map[string]any{"status": "open"}
	if m := EvaluateTriggers(eval, cfg, "", schema.TriggerUpdate, record, old); len(m) != 1 {
		t.Fatalf("expected transition match, got %+v", m)
	}

	same := map[string]any{"status": "shipped"}
	if m := EvaluateTriggers(eval, cfg, "", schema.TriggerUpdate, record, same); len(m) != 0 {
		t.Fatalf("expected no match without transition, got %+v", m)
	}
}

func TestEvaluateTriggers_BrokenExpressionSkipped(t *testing.T) {
	cfg := workflowCfg(
		schema.WorkflowDefinition{
			Name: "broken", TriggerEvent: schema.TriggerCreate, IsActive: true,
			Conditions: schema.WorkflowConditions{Expression: `record.total >`},
		},
		schema.WorkflowDefinition{
			Name: "healthy", TriggerEvent: schema.TriggerCreate, IsActive: true,
		},
	)
	eval := NewExprEvaluator()

	matches := EvaluateTriggers(eval, cfg, "", schema.TriggerCreate, map[string]any{"total": 1}, nil)
	if len(matches) != 1 || matches[0].Workflow.Name != "healthy" {
		t.Fatalf("broken expression must be skipped, healthy must fire: %+v", matches)
	}
}

func TestExprEvaluator_CachesPrograms(t *testing.T) {
	eval := NewExprEvaluator()
	env := map[string]any{"record": map[string]any{"n": 2}}

	for i := 0; i < 3; i++ {
		ok, err := eval.EvaluateBool("record.n > 1", env)
		if err != nil || !ok {
			t.Fatalf("run %d: %v, %v", i, ok, err)
		}
	}
	if len(eval.cache) != 1 {
		t.Fatalf("expected one cached program, got %d", len(eval.cache))
	}
}
