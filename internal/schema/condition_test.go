package schema

import "testing"

func TestOperatorValid(t *testing.T) {
	valid := []Operator{
		OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpLike,
		OpIn, OpNin, OpContains, OpStartsWith, OpEndsWith,
		OpIsNull, OpIsNotNull,
	}
	for _, op := range valid {
		if !op.Valid() {
			t.Fatalf("%s should be valid", op)
		}
	}
	for _, op := range []Operator{"", "between", "regexp", "EQ"} {
		if op.Valid() {
			t.Fatalf("%q should be invalid", op)
		}
	}
}

func TestConditionValidate(t *testing.T) {
	ok := Condition{Field: "status", Operator: OpEq, Value: "open"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid condition rejected: %v", err)
	}

	// the empty operator reads as equality
	implicit := Condition{Field: "status", Value: "open"}
	if err := implicit.Validate(); err != nil {
		t.Fatalf("implicit equality rejected: %v", err)
	}

	if err := (Condition{Operator: OpEq, Value: 1}).Validate(); err == nil {
		t.Fatal("empty field must be rejected")
	}
	if err := (Condition{Field: "x", Operator: "between"}).Validate(); err == nil {
		t.Fatal("unknown operator must be rejected")
	}
}

func TestEntityConfiguration_IDColumn(t *testing.T) {
	synthetic := &EntityConfiguration{
		Fields: []FieldDefinition{{Name: "title", Type: "string", IsActive: true}},
	}
	if got := synthetic.IDColumn(); got != "id" {
		t.Fatalf("synthetic id: %s", got)
	}

	flagged := &EntityConfiguration{
		Fields: []FieldDefinition{
			{Name: "sku", Type: "string", IsPrimaryKey: true, IsActive: true},
		},
	}
	if got := flagged.IDColumn(); got != "sku" {
		t.Fatalf("flagged pk: %s", got)
	}
}
