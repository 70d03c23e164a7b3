package engine

import (
	"fmt"
	"strings"

	"schemakit/internal/schema"
)

// currentUserPrefix marks RLS condition values resolved from the caller's
// context at request time, e.g. "currentUser.id".
const currentUserPrefix = "currentUser."

// DeriveRestriction computes the row restrictions for the user's roles.
// Within one role the conditions combine via the declared combinator; across
// roles the restriction is the union (OR). The result is appended to caller
// filters with AND, so restrictions only ever narrow a result set.
//
// Any malformed stored condition or unresolvable context placeholder fails
// the derivation; callers must abort the request rather than proceed
// unrestricted.
func DeriveRestriction(cfg *schema.EntityConfiguration, user *schema.UserContext) (*ConditionGroup, error) {
	if user == nil {
		return nil, nil
	}

	var roleGroups []*ConditionGroup
	for _, def := range cfg.RLS {
		if !def.IsActive || !user.HasRole(def.Role) {
			continue
		}

		group := &ConditionGroup{Combinator: normalizeCombinator(def.Config.Combinator)}
		for _, rc := range def.Config.Conditions {
			cond := rc.Condition
			if err := cond.Validate(); err != nil {
				return nil, &schema.LoadError{
					Entity: cfg.Entity.Name,
					Reason: fmt.Sprintf("malformed rls condition %q for role %s", rc.Name, def.Role),
					Err:    err,
				}
			}
			resolved, err := resolveContextValue(cond.Value, user)
			if err != nil {
				return nil, &schema.LoadError{
					Entity: cfg.Entity.Name,
					Reason: fmt.Sprintf("rls condition %q for role %s", rc.Name, def.Role),
					Err:    err,
				}
			}
			cond.Value = resolved
			group.Conditions = append(group.Conditions, cond)
		}
		if len(group.Conditions) > 0 {
			roleGroups = append(roleGroups, group)
		}
	}

	switch len(roleGroups) {
	case 0:
		return nil, nil
	case 1:
		return roleGroups[0], nil
	default:
		return &ConditionGroup{Combinator: "OR", Groups: roleGroups}, nil
	}
}

// ExposedConditions returns the conditions flagged exposed for the user's
// roles, for UI hints. Enforcement never relies on this.
func ExposedConditions(cfg *schema.EntityConfiguration, user *schema.UserContext) []schema.RLSCondition {
	if user == nil {
		return nil
	}
	var exposed []schema.RLSCondition
	for _, def := range cfg.RLS {
		if !def.IsActive || !user.HasRole(def.Role) {
			continue
		}
		for _, rc := range def.Config.Conditions {
			if rc.Exposed {
				exposed = append(exposed, rc)
			}
		}
	}
	return exposed
}

// resolveContextValue substitutes "currentUser.*" placeholders from the user
// context. A placeholder that cannot be resolved is an error, not an empty
// match.
func resolveContextValue(v any, user *schema.UserContext) (any, error) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, currentUserPrefix) {
		return v, nil
	}

	key := strings.TrimPrefix(s, currentUserPrefix)
	switch key {
	case "id":
		if user.ID == "" {
			return nil, fmt.Errorf("placeholder %q: user has no id", s)
		}
		return user.ID, nil
	case "roles":
		return user.Roles, nil
	default:
		if val, ok := user.Attrs[key]; ok {
			return val, nil
		}
		return nil, fmt.Errorf("placeholder %q: no such context attribute", s)
	}
}

func normalizeCombinator(c string) string {
	if strings.EqualFold(c, "OR") {
		return "OR"
	}
	return "AND"
}
