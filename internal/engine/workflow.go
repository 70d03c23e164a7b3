package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"schemakit/internal/schema"
)

// TriggerMatch is one workflow whose trigger conditions held for an entity
// event. The engine decides firing; executing the actions is a collaborator.
type TriggerMatch struct {
	Workflow schema.WorkflowDefinition
	Entity   string
	Tenant   string
	Event    string
	Record   map[string]any
	Old      map[string]any
}

// ActionDispatcher receives matched workflow triggers after a successful
// write. Implementations send the emails/webhooks/etc.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, match TriggerMatch) error
}

// LogDispatcher is the default dispatcher: it only logs what would fire.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, m TriggerMatch) error {
	log.Printf("workflow %s fired for %s.%s (%d actions)",
		m.Workflow.Name, m.Entity, m.Event, len(m.Workflow.Actions))
	return nil
}

// ExprEvaluator evaluates workflow condition expressions with expr-lang.
// Compiled programs are cached by expression string.
type ExprEvaluator struct {
	mu    sync.Mutex
	cache map[string]*vm.Program
}

func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

func (e *ExprEvaluator) EvaluateBool(expression string, env map[string]any) (bool, error) {
	e.mu.Lock()
	prog, ok := e.cache[expression]
	e.mu.Unlock()
	if !ok {
		var err error
		prog, err = expr.Compile(expression, expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile condition: %w", err)
		}
		e.mu.Lock()
		e.cache[expression] = prog
		e.mu.Unlock()
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}

	isTrue, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return bool")
	}
	return isTrue, nil
}

// EvaluateTriggers returns the active workflows whose trigger event matches
// and whose conditions hold for the record. A workflow whose expression fails
// to compile or evaluate is skipped with a warning; a committed write is
// never rolled back over a broken trigger definition.
func EvaluateTriggers(eval *ExprEvaluator, cfg *schema.EntityConfiguration, tenant, event string, record, old map[string]any) []TriggerMatch {
	var matches []TriggerMatch
	for _, w := range cfg.Workflows {
		if !w.IsActive || w.TriggerEvent != event {
			continue
		}
		if !conditionsMatch(w.Conditions.Conditions, record) {
			continue
		}
		if w.Conditions.Expression != "" {
			env := map[string]any{
				"record": record,
				"old":    old,
				"event":  event,
			}
			ok, err := eval.EvaluateBool(w.Conditions.Expression, env)
			if err != nil {
				log.Printf("WARN: workflow %s on %s: %v", w.Name, cfg.Entity.Name, err)
				continue
			}
			if !ok {
				continue
			}
		}
		matches = append(matches, TriggerMatch{
			Workflow: w,
			Entity:   cfg.Entity.Name,
			Tenant:   tenant,
			Event:    event,
			Record:   record,
			Old:      old,
		})
	}
	return matches
}
