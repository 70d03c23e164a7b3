package engine

import (
	"reflect"
	"strings"
	"testing"

	"schemakit/internal/schema"
	"schemakit/internal/store"
)

func pgBuilder() *Builder     { return NewBuilder(&store.PostgresDialect{}) }
func sqliteBuilder() *Builder { return NewBuilder(&store.SQLiteDialect{}) }

func TestBuildSelect_Basic(t *testing.T) {
	qr := pgBuilder().BuildSelect(Query{Table: "orders"})
	if qr.SQL != `SELECT * FROM "orders"` {
		t.Fatalf("unexpected SQL: %s", qr.SQL)
	}
	if len(qr.Params) != 0 {
		t.Fatalf("expected no params, got %v", qr.Params)
	}
}

func TestBuildSelect_ConditionsAreANDJoined(t *testing.T) {
	qr := pgBuilder().BuildSelect(Query{
		Table: "orders",
		Conditions: []schema.Condition{
			{Field: "status", Operator: schema.OpEq, Value: "open"},
			{Field: "total", Operator: schema.OpGt, Value: 100},
			{Field: "region", Operator: schema.OpNeq, Value: "eu"},
		},
	})
	want := `SELECT * FROM "orders" WHERE "status" = $1 AND "total" > $2 AND "region" != $3`
	if qr.SQL != want {
		t.Fatalf("got %s\nwant %s", qr.SQL, want)
	}
	if !reflect.DeepEqual(qr.Params, []any{"open", 100, "eu"}) {
		t.Fatalf("unexpected params: %v", qr.Params)
	}
}

func TestBuildSelect_TenantQualification(t *testing.T) {
	pg := pgBuilder().BuildSelect(Query{Tenant: "acme", Table: "orders"})
	if pg.SQL != `SELECT * FROM "acme"."orders"` {
		t.Fatalf("postgres: %s", pg.SQL)
	}

	sq := sqliteBuilder().BuildSelect(Query{Tenant: "acme", Table: "orders"})
	if sq.SQL != `SELECT * FROM "acme_orders"` {
		t.Fatalf("sqlite: %s", sq.SQL)
	}
}

func TestBuildSelect_Pagination(t *testing.T) {
	qr := pgBuilder().BuildSelect(Query{Table: "orders", Limit: 25, Offset: 50})
	want := `SELECT * FROM "orders" LIMIT $1 OFFSET $2`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
	if !reflect.DeepEqual(qr.Params, []any{25, 50}) {
		t.Fatalf("unexpected params: %v", qr.Params)
	}

	// non-positive values drop the clause entirely
	qr = pgBuilder().BuildSelect(Query{Table: "orders", Limit: 0, Offset: -1})
	if qr.SQL != `SELECT * FROM "orders"` {
		t.Fatalf("got %s", qr.SQL)
	}
}

func TestBuildSelect_SortNormalization(t *testing.T) {
	qr := pgBuilder().BuildSelect(Query{
		Table: "orders",
		Sorts: []Sort{
			{Field: "created_at", Direction: "desc"},
			{Field: "name", Direction: "sideways"},
		},
	})
	want := `SELECT * FROM "orders" ORDER BY "created_at" DESC, "name" ASC`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
}

func TestBuildSelect_RestrictionAppended(t *testing.T) {
	qr := pgBuilder().BuildSelect(Query{
		Table: "orders",
		Conditions: []schema.Condition{
			{Field: "status", Operator: schema.OpEq, Value: "open"},
		},
		Restriction: &ConditionGroup{
			Combinator: "OR",
			Conditions: []schema.Condition{
				{Field: "owner_id", Operator: schema.OpEq, Value: "u1"},
				{Field: "region", Operator: schema.OpEq, Value: "west"},
			},
		},
	})
	want := `SELECT * FROM "orders" WHERE "status" = $1 AND ("owner_id" = $2 OR "region" = $3)`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
	if !reflect.DeepEqual(qr.Params, []any{"open", "u1", "west"}) {
		t.Fatalf("unexpected params: %v", qr.Params)
	}
}

func TestBuildSelect_RestrictionNarrowsMonotonically(t *testing.T) {
	restriction := &ConditionGroup{
		Conditions: []schema.Condition{
			{Field: "owner_id", Operator: schema.OpEq, Value: "u1"},
		},
	}

	once := pgBuilder().BuildSelect(Query{
		Table: "orders",
		Conditions: []schema.Condition{
			{Field: "status", Operator: schema.OpEq, Value: "open"},
		},
		Restriction: restriction,
	})
	want := `SELECT * FROM "orders" WHERE "status" = $1 AND ("owner_id" = $2)`
	if once.SQL != want {
		t.Fatalf("got %s", once.SQL)
	}

	// Feeding an already-restricted clause set back through the builder
	// with the same restriction only appends another AND term: every
	// clause of the first query survives, so the result set can shrink
	// but never grow.
	twice := pgBuilder().BuildSelect(Query{
		Table: "orders",
		Conditions: []schema.Condition{
			{Field: "status", Operator: schema.OpEq, Value: "open"},
			{Field: "owner_id", Operator: schema.OpEq, Value: "u1"},
		},
		Restriction: restriction,
	})
	want = `SELECT * FROM "orders" WHERE "status" = $1 AND "owner_id" = $2 AND ("owner_id" = $3)`
	if twice.SQL != want {
		t.Fatalf("got %s", twice.SQL)
	}
	if !strings.Contains(twice.SQL, `"status" = $1`) || !strings.Contains(twice.SQL, ` AND (`) {
		t.Fatalf("restriction re-application must keep prior clauses AND-joined: %s", twice.SQL)
	}
}

func TestBuildSelect_EmptyRestrictionIgnored(t *testing.T) {
	qr := pgBuilder().BuildSelect(Query{
		Table:       "orders",
		Restriction: &ConditionGroup{},
	})
	if qr.SQL != `SELECT * FROM "orders"` {
		t.Fatalf("got %s", qr.SQL)
	}
}

func TestBuildCondition_Operators(t *testing.T) {
	b := sqliteBuilder()

	tests := []struct {
		name    string
		cond    schema.Condition
		wantSQL string
		params  int
	}{
		{"eq", schema.Condition{Field: "a", Operator: schema.OpEq, Value: 1}, `"a" = ?1`, 1},
		{"empty op is eq", schema.Condition{Field: "a", Value: 1}, `"a" = ?1`, 1},
		{"neq", schema.Condition{Field: "a", Operator: schema.OpNeq, Value: 1}, `"a" != ?1`, 1},
		{"gt", schema.Condition{Field: "a", Operator: schema.OpGt, Value: 1}, `"a" > ?1`, 1},
		{"gte", schema.Condition{Field: "a", Operator: schema.OpGte, Value: 1}, `"a" >= ?1`, 1},
		{"lt", schema.Condition{Field: "a", Operator: schema.OpLt, Value: 1}, `"a" < ?1`, 1},
		{"lte", schema.Condition{Field: "a", Operator: schema.OpLte, Value: 1}, `"a" <= ?1`, 1},
		{"like", schema.Condition{Field: "a", Operator: schema.OpLike, Value: "x%"}, `"a" LIKE ?1`, 1},
		{"in", schema.Condition{Field: "a", Operator: schema.OpIn, Value: []any{1, 2}}, `"a" IN (?1, ?2)`, 2},
		{"empty in", schema.Condition{Field: "a", Operator: schema.OpIn, Value: []any{}}, `1=0`, 0},
		{"nin", schema.Condition{Field: "a", Operator: schema.OpNin, Value: []any{1}}, `"a" NOT IN (?1)`, 1},
		{"empty nin", schema.Condition{Field: "a", Operator: schema.OpNin, Value: []any{}}, `1=1`, 0},
		{"contains", schema.Condition{Field: "a", Operator: schema.OpContains, Value: "x"}, `"a" LIKE ?1`, 1},
		{"startswith", schema.Condition{Field: "a", Operator: schema.OpStartsWith, Value: "x"}, `"a" LIKE ?1`, 1},
		{"endswith", schema.Condition{Field: "a", Operator: schema.OpEndsWith, Value: "x"}, `"a" LIKE ?1`, 1},
		{"isnull", schema.Condition{Field: "a", Operator: schema.OpIsNull}, `"a" IS NULL`, 0},
		{"isnotnull", schema.Condition{Field: "a", Operator: schema.OpIsNotNull}, `"a" IS NOT NULL`, 0},
		{"unknown degrades to eq", schema.Condition{Field: "a", Operator: "between", Value: 1}, `"a" = ?1`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qr := b.BuildSelect(Query{Table: "t", Conditions: []schema.Condition{tt.cond}})
			want := `SELECT * FROM "t" WHERE ` + tt.wantSQL
			if qr.SQL != want {
				t.Fatalf("got %s\nwant %s", qr.SQL, want)
			}
			if len(qr.Params) != tt.params {
				t.Fatalf("expected %d params, got %v", tt.params, qr.Params)
			}
		})
	}
}

func TestBuildCondition_SubstringWrapping(t *testing.T) {
	b := pgBuilder()

	qr := b.BuildSelect(Query{Table: "t", Conditions: []schema.Condition{
		{Field: "name", Operator: schema.OpContains, Value: "smith"},
	}})
	if qr.Params[0] != "%smith%" {
		t.Fatalf("contains param: %v", qr.Params[0])
	}

	qr = b.BuildSelect(Query{Table: "t", Conditions: []schema.Condition{
		{Field: "name", Operator: schema.OpStartsWith, Value: "smith"},
	}})
	if qr.Params[0] != "smith%" {
		t.Fatalf("startswith param: %v", qr.Params[0])
	}

	qr = b.BuildSelect(Query{Table: "t", Conditions: []schema.Condition{
		{Field: "name", Operator: schema.OpEndsWith, Value: "smith"},
	}})
	if qr.Params[0] != "%smith" {
		t.Fatalf("endswith param: %v", qr.Params[0])
	}
}

func TestBuildCondition_CaseInsensitiveMatchIsDialectSpecific(t *testing.T) {
	cond := []schema.Condition{{Field: "name", Operator: schema.OpLike, Value: "a%"}}

	pg := pgBuilder().BuildSelect(Query{Table: "t", Conditions: cond})
	if pg.SQL != `SELECT * FROM "t" WHERE "name" ILIKE $1` {
		t.Fatalf("postgres: %s", pg.SQL)
	}
	sq := sqliteBuilder().BuildSelect(Query{Table: "t", Conditions: cond})
	if sq.SQL != `SELECT * FROM "t" WHERE "name" LIKE ?1` {
		t.Fatalf("sqlite: %s", sq.SQL)
	}
}

func TestBuildSelect_IdentifierQuoting(t *testing.T) {
	qr := pgBuilder().BuildSelect(Query{
		Table: `ord"ers`,
		Conditions: []schema.Condition{
			{Field: `na"me`, Operator: schema.OpEq, Value: 1},
		},
	})
	want := `SELECT * FROM "ord""ers" WHERE "na""me" = $1`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
}

func TestBuildSelect_NestedRestrictionGroups(t *testing.T) {
	qr := pgBuilder().BuildSelect(Query{
		Table: "orders",
		Restriction: &ConditionGroup{
			Combinator: "OR",
			Groups: []*ConditionGroup{
				{Conditions: []schema.Condition{
					{Field: "owner_id", Operator: schema.OpEq, Value: "u1"},
					{Field: "status", Operator: schema.OpEq, Value: "open"},
				}},
				{Conditions: []schema.Condition{
					{Field: "region", Operator: schema.OpEq, Value: "west"},
				}},
			},
		},
	})
	want := `SELECT * FROM "orders" WHERE (("owner_id" = $1 AND "status" = $2) OR ("region" = $3))`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
}

func TestBuildInsert_Deterministic(t *testing.T) {
	fields := map[string]any{"b": 2, "a": 1, "c": 3}
	qr := pgBuilder().BuildInsert("", "orders", fields)
	want := `INSERT INTO "orders" ("a", "b", "c") VALUES ($1, $2, $3)`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
	if !reflect.DeepEqual(qr.Params, []any{1, 2, 3}) {
		t.Fatalf("unexpected params: %v", qr.Params)
	}
}

func TestBuildUpdateByID_WithRestriction(t *testing.T) {
	qr := pgBuilder().BuildUpdateByID("", "orders", "id", "o1",
		map[string]any{"status": "closed"},
		&ConditionGroup{Conditions: []schema.Condition{
			{Field: "owner_id", Operator: schema.OpEq, Value: "u1"},
		}})
	want := `UPDATE "orders" SET "status" = $1 WHERE "id" = $2 AND ("owner_id" = $3)`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
	if !reflect.DeepEqual(qr.Params, []any{"closed", "o1", "u1"}) {
		t.Fatalf("unexpected params: %v", qr.Params)
	}
}

func TestBuildDeleteByID(t *testing.T) {
	qr := sqliteBuilder().BuildDeleteByID("acme", "orders", "id", "o1", nil)
	want := `DELETE FROM "acme_orders" WHERE "id" = ?1`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
}

func TestBuildCount_SharesFilters(t *testing.T) {
	qr := pgBuilder().BuildCount(Query{
		Table: "orders",
		Conditions: []schema.Condition{
			{Field: "status", Operator: schema.OpEq, Value: "open"},
		},
		Restriction: &ConditionGroup{Conditions: []schema.Condition{
			{Field: "owner_id", Operator: schema.OpEq, Value: "u1"},
		}},
	})
	want := `SELECT COUNT(*) AS "count" FROM "orders" WHERE "status" = $1 AND ("owner_id" = $2)`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
}

func TestBuildSelect_JoinClause(t *testing.T) {
	qr := pgBuilder().BuildSelect(Query{
		Table: "orders",
		Joins: []Join{{
			Table:      "customers",
			Alias:      "c",
			LeftField:  "orders.customer_id",
			RightField: "c.id",
		}},
	})
	want := `SELECT * FROM "orders" LEFT JOIN "customers" AS "c" ON "orders"."customer_id" = "c"."id"`
	if qr.SQL != want {
		t.Fatalf("got %s", qr.SQL)
	}
}
