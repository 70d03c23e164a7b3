package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewDialect(t *testing.T) {
	if d := NewDialect("postgres"); d.Name() != "postgres" {
		t.Fatalf("got %s", d.Name())
	}
	if d := NewDialect("sqlite"); d.Name() != "sqlite" {
		t.Fatalf("got %s", d.Name())
	}
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"orders", `"orders"`},
		{`or"ders`, `"or""ders"`},
		{`x";DROP TABLE y;--`, `"x"";DROP TABLE y;--"`},
	}
	d := &PostgresDialect{}
	for _, tt := range tests {
		if got := d.QuoteIdent(tt.in); got != tt.want {
			t.Fatalf("QuoteIdent(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestQualifyTable(t *testing.T) {
	pg := &PostgresDialect{}
	if got := pg.QualifyTable("", "orders"); got != `"orders"` {
		t.Fatalf("pg default tenant: %s", got)
	}
	if got := pg.QualifyTable("acme", "orders"); got != `"acme"."orders"` {
		t.Fatalf("pg tenant: %s", got)
	}

	sq := &SQLiteDialect{}
	if got := sq.QualifyTable("", "orders"); got != `"orders"` {
		t.Fatalf("sqlite default tenant: %s", got)
	}
	if got := sq.QualifyTable("acme", "orders"); got != `"acme_orders"` {
		t.Fatalf("sqlite tenant: %s", got)
	}
}

func TestParamBuilders(t *testing.T) {
	pg := (&PostgresDialect{}).NewParamBuilder()
	if ph := pg.Add("a"); ph != "$1" {
		t.Fatalf("pg first placeholder: %s", ph)
	}
	if ph := pg.Add("b"); ph != "$2" {
		t.Fatalf("pg second placeholder: %s", ph)
	}
	if pg.Count() != 2 || len(pg.Params()) != 2 {
		t.Fatalf("pg accounting: %d, %v", pg.Count(), pg.Params())
	}

	sq := (&SQLiteDialect{}).NewParamBuilder()
	if ph := sq.Add("a"); ph != "?1" {
		t.Fatalf("sqlite placeholder: %s", ph)
	}
}

func TestColumnTypes(t *testing.T) {
	tests := []struct {
		fieldType string
		pg        string
		sqlite    string
	}{
		{"string", "TEXT", "TEXT"},
		{"integer", "INTEGER", "INTEGER"},
		{"number", "NUMERIC", "NUMERIC"},
		{"boolean", "BOOLEAN", "INTEGER"},
		{"date", "DATE", "TEXT"},
		{"datetime", "TIMESTAMPTZ", "TEXT"},
		{"json", "JSONB", "TEXT"},
		{"array", "JSONB", "TEXT"},
		{"object", "JSONB", "TEXT"},
	}
	pg := &PostgresDialect{}
	sq := &SQLiteDialect{}
	for _, tt := range tests {
		if got := pg.ColumnType(tt.fieldType); got != tt.pg {
			t.Fatalf("pg %s: got %s, want %s", tt.fieldType, got, tt.pg)
		}
		if got := sq.ColumnType(tt.fieldType); got != tt.sqlite {
			t.Fatalf("sqlite %s: got %s, want %s", tt.fieldType, got, tt.sqlite)
		}
	}
}

func TestSQLiteMapError(t *testing.T) {
	d := &SQLiteDialect{}
	err := d.MapError(fmt.Errorf("constraint failed: UNIQUE constraint failed: tasks.code"))
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	plain := fmt.Errorf("no such table: tasks")
	if errors.Is(d.MapError(plain), ErrUniqueViolation) {
		t.Fatal("unrelated error must pass through")
	}
}

func TestNeedsBoolFix(t *testing.T) {
	if (&PostgresDialect{}).NeedsBoolFix() {
		t.Fatal("postgres booleans are native")
	}
	if !(&SQLiteDialect{}).NeedsBoolFix() {
		t.Fatal("sqlite booleans need fixing")
	}
}

func TestNormalizeBooleans(t *testing.T) {
	rows := []map[string]any{
		{"done": int64(1), "count": int64(1)},
		{"done": int64(0), "count": int64(7)},
	}
	NormalizeBooleans(rows, []string{"done"})
	if rows[0]["done"] != true || rows[1]["done"] != false {
		t.Fatalf("booleans not normalized: %v", rows)
	}
	if rows[1]["count"] != int64(7) {
		t.Fatalf("non-boolean column changed: %v", rows[1]["count"])
	}
}
