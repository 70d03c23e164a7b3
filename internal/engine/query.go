package engine

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"schemakit/internal/schema"
	"schemakit/internal/store"
)

// Builder compiles structured filter/sort/join/pagination specs into
// parameterized SQL. It is shaped entirely by the injected dialect; values
// are never concatenated into SQL text and identifiers are never spliced raw.
type Builder struct {
	dialect store.Dialect
}

func NewBuilder(d store.Dialect) *Builder {
	return &Builder{dialect: d}
}

// Query is a SELECT/COUNT specification against one logical table.
type Query struct {
	Tenant      string
	Table       string
	Columns     []string // projection; empty selects *
	Conditions  []schema.Condition
	Restriction *ConditionGroup // row restrictions, ANDed onto Conditions
	Joins       []Join
	Sorts       []Sort
	Limit       int // omitted when <= 0
	Offset      int // omitted when <= 0
}

// Join is a single join clause. Fields may be alias-qualified ("a.field").
type Join struct {
	Table      string
	Alias      string
	Kind       string // "LEFT" (default) or "INNER"
	LeftField  string
	RightField string
}

// Sort is one ORDER BY entry.
type Sort struct {
	Field     string
	Direction string // normalized to ASC/DESC; anything else becomes ASC
}

// ConditionGroup combines conditions (and nested groups) with one combinator.
// Row restrictions are passed to the builder as groups and merged before SQL
// text is generated; finished SQL is never patched afterwards.
type ConditionGroup struct {
	Combinator string // "AND" (default) or "OR"
	Conditions []schema.Condition
	Groups     []*ConditionGroup
}

// Empty reports whether the group contributes no predicates.
func (g *ConditionGroup) Empty() bool {
	if g == nil {
		return true
	}
	if len(g.Conditions) > 0 {
		return false
	}
	for _, sub := range g.Groups {
		if !sub.Empty() {
			return false
		}
	}
	return true
}

// QueryResult is a SQL statement plus its positional parameters, in
// left-to-right placeholder order.
type QueryResult struct {
	SQL    string
	Params []any
}

// BuildSelect compiles the query into a SELECT statement.
func (b *Builder) BuildSelect(q Query) QueryResult {
	pb := b.dialect.NewParamBuilder()

	sql := "SELECT " + b.projection(q.Columns) + " FROM " + b.dialect.QualifyTable(q.Tenant, q.Table)

	for _, j := range q.Joins {
		sql += " " + b.joinClause(q.Tenant, j)
	}

	if where := b.buildWhere(q.Conditions, q.Restriction, pb); where != "" {
		sql += " WHERE " + where
	}

	if len(q.Sorts) > 0 {
		var parts []string
		for _, s := range q.Sorts {
			parts = append(parts, b.quoteField(s.Field)+" "+normalizeDirection(s.Direction))
		}
		sql += " ORDER BY " + strings.Join(parts, ", ")
	}

	if q.Limit > 0 {
		sql += " LIMIT " + pb.Add(q.Limit)
	}
	if q.Offset > 0 {
		sql += " OFFSET " + pb.Add(q.Offset)
	}

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// BuildCount compiles the query into a COUNT statement with the same filters.
func (b *Builder) BuildCount(q Query) QueryResult {
	pb := b.dialect.NewParamBuilder()

	sql := `SELECT COUNT(*) AS "count" FROM ` + b.dialect.QualifyTable(q.Tenant, q.Table)
	for _, j := range q.Joins {
		sql += " " + b.joinClause(q.Tenant, j)
	}
	if where := b.buildWhere(q.Conditions, q.Restriction, pb); where != "" {
		sql += " WHERE " + where
	}

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// BuildInsert compiles an INSERT. Columns are emitted in sorted order so the
// statement is deterministic for a given field set.
func (b *Builder) BuildInsert(tenant, table string, fields map[string]any) QueryResult {
	pb := b.dialect.NewParamBuilder()

	names := sortedKeys(fields)
	cols := make([]string, len(names))
	phs := make([]string, len(names))
	for i, name := range names {
		cols[i] = b.dialect.QuoteIdent(name)
		phs[i] = pb.Add(fields[name])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.dialect.QualifyTable(tenant, table),
		strings.Join(cols, ", "),
		strings.Join(phs, ", "))

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// BuildUpdateByID compiles an UPDATE of a single row. A non-empty restriction
// narrows the update the same way it narrows reads.
func (b *Builder) BuildUpdateByID(tenant, table, idColumn string, id any, fields map[string]any, restriction *ConditionGroup) QueryResult {
	pb := b.dialect.NewParamBuilder()

	names := sortedKeys(fields)
	if len(names) == 0 {
		return QueryResult{}
	}
	sets := make([]string, len(names))
	for i, name := range names {
		sets[i] = b.dialect.QuoteIdent(name) + " = " + pb.Add(fields[name])
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		b.dialect.QualifyTable(tenant, table),
		strings.Join(sets, ", "),
		b.dialect.QuoteIdent(idColumn), pb.Add(id))

	if !restriction.Empty() {
		sql += " AND " + b.buildGroup(restriction, pb)
	}

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// BuildUpdateWhere compiles an UPDATE constrained by a condition set.
func (b *Builder) BuildUpdateWhere(tenant, table string, fields map[string]any, conditions []schema.Condition, restriction *ConditionGroup) QueryResult {
	pb := b.dialect.NewParamBuilder()

	names := sortedKeys(fields)
	if len(names) == 0 {
		return QueryResult{}
	}
	sets := make([]string, len(names))
	for i, name := range names {
		sets[i] = b.dialect.QuoteIdent(name) + " = " + pb.Add(fields[name])
	}

	sql := fmt.Sprintf("UPDATE %s SET %s",
		b.dialect.QualifyTable(tenant, table), strings.Join(sets, ", "))
	if where := b.buildWhere(conditions, restriction, pb); where != "" {
		sql += " WHERE " + where
	}

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// BuildDeleteByID compiles a single-row DELETE.
func (b *Builder) BuildDeleteByID(tenant, table, idColumn string, id any, restriction *ConditionGroup) QueryResult {
	pb := b.dialect.NewParamBuilder()

	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		b.dialect.QualifyTable(tenant, table),
		b.dialect.QuoteIdent(idColumn), pb.Add(id))

	if !restriction.Empty() {
		sql += " AND " + b.buildGroup(restriction, pb)
	}

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// BuildDeleteWhere compiles a DELETE constrained by a condition set.
func (b *Builder) BuildDeleteWhere(tenant, table string, conditions []schema.Condition, restriction *ConditionGroup) QueryResult {
	pb := b.dialect.NewParamBuilder()

	sql := "DELETE FROM " + b.dialect.QualifyTable(tenant, table)
	if where := b.buildWhere(conditions, restriction, pb); where != "" {
		sql += " WHERE " + where
	}

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// buildWhere joins caller conditions with AND and appends the restriction
// group, also with AND. Restrictions can only narrow a result set.
func (b *Builder) buildWhere(conditions []schema.Condition, restriction *ConditionGroup, pb store.ParamBuilder) string {
	var parts []string
	for _, c := range conditions {
		parts = append(parts, b.buildCondition(c, pb))
	}
	if !restriction.Empty() {
		parts = append(parts, b.buildGroup(restriction, pb))
	}
	return strings.Join(parts, " AND ")
}

func (b *Builder) buildGroup(g *ConditionGroup, pb store.ParamBuilder) string {
	var parts []string
	for _, c := range g.Conditions {
		parts = append(parts, b.buildCondition(c, pb))
	}
	for _, sub := range g.Groups {
		if !sub.Empty() {
			parts = append(parts, b.buildGroup(sub, pb))
		}
	}
	combinator := strings.ToUpper(g.Combinator)
	if combinator != "OR" {
		combinator = "AND"
	}
	return "(" + strings.Join(parts, " "+combinator+" ") + ")"
}

func (b *Builder) buildCondition(c schema.Condition, pb store.ParamBuilder) string {
	field := b.quoteField(c.Field)

	switch c.Operator {
	case schema.OpEq, "":
		return field + " = " + pb.Add(c.Value)
	case schema.OpNeq:
		return field + " != " + pb.Add(c.Value)
	case schema.OpGt:
		return field + " > " + pb.Add(c.Value)
	case schema.OpGte:
		return field + " >= " + pb.Add(c.Value)
	case schema.OpLt:
		return field + " < " + pb.Add(c.Value)
	case schema.OpLte:
		return field + " <= " + pb.Add(c.Value)
	case schema.OpLike:
		return field + " " + b.dialect.LikeOperator() + " " + pb.Add(c.Value)
	case schema.OpIn:
		values := toAnySlice(c.Value)
		if len(values) == 0 {
			// empty IN matches nothing; emitting malformed SQL is not an option
			return "1=0"
		}
		return b.dialect.InExpr(field, pb, values)
	case schema.OpNin:
		values := toAnySlice(c.Value)
		if len(values) == 0 {
			// empty NOT IN excludes nothing
			return "1=1"
		}
		return b.dialect.NotInExpr(field, pb, values)
	case schema.OpContains:
		return field + " " + b.dialect.LikeOperator() + " " + pb.Add("%"+toString(c.Value)+"%")
	case schema.OpStartsWith:
		return field + " " + b.dialect.LikeOperator() + " " + pb.Add(toString(c.Value)+"%")
	case schema.OpEndsWith:
		return field + " " + b.dialect.LikeOperator() + " " + pb.Add("%"+toString(c.Value))
	case schema.OpIsNull:
		return field + " IS NULL"
	case schema.OpIsNotNull:
		return field + " IS NOT NULL"
	default:
		// unknown operators degrade to equality; load-time validation keeps
		// catalog-sourced conditions inside the enum
		return field + " = " + pb.Add(c.Value)
	}
}

// quoteField canonicalizes a possibly alias-qualified column reference.
func (b *Builder) quoteField(field string) string {
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = b.dialect.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func (b *Builder) projection(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = b.quoteField(c)
	}
	return strings.Join(quoted, ", ")
}

func (b *Builder) joinClause(tenant string, j Join) string {
	kind := strings.ToUpper(j.Kind)
	if kind != "INNER" {
		kind = "LEFT"
	}
	table := b.dialect.QualifyTable(tenant, j.Table)
	if j.Alias != "" {
		table += " AS " + b.dialect.QuoteIdent(j.Alias)
	}
	return fmt.Sprintf("%s JOIN %s ON %s = %s",
		kind, table, b.quoteField(j.LeftField), b.quoteField(j.RightField))
}

func normalizeDirection(dir string) string {
	if strings.EqualFold(dir, "desc") {
		return "DESC"
	}
	return "ASC"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toAnySlice converts slice-typed values to []any. Non-slice values become a
// single-element slice.
func toAnySlice(v any) []any {
	if v == nil {
		return nil
	}
	switch vals := v.(type) {
	case []any:
		return vals
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
