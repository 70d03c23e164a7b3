package engine

import (
	"fmt"
	"sort"
	"strings"

	"schemakit/internal/schema"
)

// Decision is the outcome of authorization: the coarse allow/deny plus the
// per-field read/write mask derived from field-level overrides.
type Decision struct {
	Allowed   bool
	FieldMask map[string]schema.FieldAccess
}

// CanRead reports read exposure for a field; fields without an entry inherit
// the entity-level decision.
func (d Decision) CanRead(field string) bool {
	if access, ok := d.FieldMask[field]; ok {
		return access.Read
	}
	return d.Allowed
}

// CanWrite reports write acceptance for a field.
func (d Decision) CanWrite(field string) bool {
	if access, ok := d.FieldMask[field]; ok {
		return access.Write
	}
	return d.Allowed
}

// Authorize resolves (entity, roles, action) against the permission
// definitions. Any matching explicit deny wins; otherwise any matching allow
// wins; otherwise the default is deny. Field-level overrides refine the
// coarse decision per field, explicit denies again winning across
// definitions. record may be nil for create and unscoped reads, in which
// case record-condition checks are skipped.
func Authorize(cfg *schema.EntityConfiguration, user *schema.UserContext, action string, record map[string]any) Decision {
	if user == nil {
		return Decision{}
	}

	var matched []schema.PermissionDefinition
	for _, p := range cfg.Permissions {
		if p.Action != action || !user.HasRole(p.Role) {
			continue
		}
		if len(p.Conditions) > 0 && record != nil && !conditionsMatch(p.Conditions, record) {
			continue
		}
		matched = append(matched, p)
	}

	allowed := false
	denied := false
	for _, p := range matched {
		if p.IsAllowed {
			allowed = true
		} else {
			denied = true
		}
	}
	if denied {
		allowed = false
	}

	mask := make(map[string]schema.FieldAccess)
	explicitDenyRead := make(map[string]bool)
	explicitDenyWrite := make(map[string]bool)
	for _, p := range matched {
		for field, access := range p.FieldPermissions {
			current, seen := mask[field]
			if !seen {
				current = schema.FieldAccess{Read: access.Read, Write: access.Write}
			} else {
				current.Read = current.Read || access.Read
				current.Write = current.Write || access.Write
			}
			if !access.Read {
				explicitDenyRead[field] = true
			}
			if !access.Write {
				explicitDenyWrite[field] = true
			}
			mask[field] = current
		}
	}
	for field := range mask {
		access := mask[field]
		if explicitDenyRead[field] {
			access.Read = false
		}
		if explicitDenyWrite[field] {
			access.Write = false
		}
		mask[field] = access
	}

	return Decision{Allowed: allowed, FieldMask: mask}
}

// ApplyReadMask strips fields the decision does not expose, in place.
func ApplyReadMask(dec Decision, rows []map[string]any) {
	for _, row := range rows {
		for field := range row {
			if !dec.CanRead(field) {
				delete(row, field)
			}
		}
	}
}

// CheckWriteMask returns the names of fields the decision refuses to accept,
// sorted for stable error messages.
func CheckWriteMask(dec Decision, fields map[string]any) []string {
	var denied []string
	for field := range fields {
		if !dec.CanWrite(field) {
			denied = append(denied, field)
		}
	}
	sort.Strings(denied)
	return denied
}

// conditionsMatch evaluates a permission's conditions against a record
// in memory; every condition must hold.
func conditionsMatch(conditions []schema.Condition, record map[string]any) bool {
	for _, c := range conditions {
		if !conditionMatches(c, record) {
			return false
		}
	}
	return true
}

func conditionMatches(c schema.Condition, record map[string]any) bool {
	val, ok := record[c.Field]

	switch c.Operator {
	case schema.OpIsNull:
		return !ok || val == nil
	case schema.OpIsNotNull:
		return ok && val != nil
	}
	if !ok {
		return false
	}

	switch c.Operator {
	case schema.OpEq, "":
		return fmt.Sprintf("%v", val) == fmt.Sprintf("%v", c.Value)
	case schema.OpNeq:
		return fmt.Sprintf("%v", val) != fmt.Sprintf("%v", c.Value)
	case schema.OpGt:
		return compareNumeric(val, c.Value) > 0
	case schema.OpGte:
		return compareNumeric(val, c.Value) >= 0
	case schema.OpLt:
		return compareNumeric(val, c.Value) < 0
	case schema.OpLte:
		return compareNumeric(val, c.Value) <= 0
	case schema.OpIn:
		return valueInList(val, c.Value)
	case schema.OpNin:
		return !valueInList(val, c.Value)
	case schema.OpLike, schema.OpContains:
		return strings.Contains(strings.ToLower(toString(val)), strings.ToLower(toString(c.Value)))
	case schema.OpStartsWith:
		return strings.HasPrefix(strings.ToLower(toString(val)), strings.ToLower(toString(c.Value)))
	case schema.OpEndsWith:
		return strings.HasSuffix(strings.ToLower(toString(val)), strings.ToLower(toString(c.Value)))
	default:
		return false
	}
}

func valueInList(val, list any) bool {
	valStr := fmt.Sprintf("%v", val)
	for _, item := range toAnySlice(list) {
		if fmt.Sprintf("%v", item) == valStr {
			return true
		}
	}
	return false
}

func compareNumeric(a, b any) int {
	fa := toFloat(a)
	fb := toFloat(b)
	if fa < fb {
		return -1
	}
	if fa > fb {
		return 1
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		var f float64
		fmt.Sscanf(fmt.Sprintf("%v", v), "%f", &f)
		return f
	}
}
