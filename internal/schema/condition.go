package schema

import "fmt"

// Operator is the closed set of filter operators. Catalog rows carrying any
// other operator are rejected at load time, not at query-build time.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpLike       Operator = "like"
	OpIn         Operator = "in"
	OpNin        Operator = "nin"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
	OpIsNull     Operator = "isnull"
	OpIsNotNull  Operator = "isnotnull"
)

var validOperators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpLike: true, OpIn: true, OpNin: true, OpContains: true, OpStartsWith: true,
	OpEndsWith: true, OpIsNull: true, OpIsNotNull: true,
}

// Valid reports whether o is a member of the operator enum.
func (o Operator) Valid() bool {
	return validOperators[o]
}

// Condition is a single structured filter predicate. Immutable once built.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// Validate checks the condition shape. The empty operator is accepted and
// treated as equality downstream.
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition has empty field")
	}
	if c.Operator != "" && !c.Operator.Valid() {
		return fmt.Errorf("unknown operator %q on field %s", c.Operator, c.Field)
	}
	return nil
}
