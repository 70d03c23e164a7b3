package store

import (
	"context"
	"fmt"
	"strings"
)

// Dialect abstracts database-specific SQL generation and behavior.
// A single Dialect value is resolved at configuration time and injected into
// every component that produces SQL; call sites never switch on driver names.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	Placeholder(index int) string

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// QuoteIdent escapes an identifier: embedded quote characters are doubled
	// and the result is wrapped in the dialect's quoting syntax. Every table
	// and column reference goes through this; identifiers are never spliced raw.
	QuoteIdent(name string) string

	// LikeOperator returns the case-insensitive pattern-match operator.
	LikeOperator() string

	// NowExpr returns the SQL expression for the current timestamp.
	NowExpr() string

	// ColumnType maps a field type to the database DDL type.
	ColumnType(fieldType string) string

	// QualifyTable maps a logical table name plus tenant to the physical
	// reference. The empty tenant is the default tenant (identity mapping).
	// PostgreSQL uses schema qualification, SQLite a name prefix.
	QualifyTable(tenant, table string) string

	// EnsureTenant creates the tenant namespace if the dialect has one.
	EnsureTenant(ctx context.Context, db Querier, tenant string) error

	// TableExists checks whether the physical table for (tenant, table) exists.
	TableExists(ctx context.Context, db Querier, tenant, table string) (bool, error)

	// GetColumns returns existing column names and types for (tenant, table).
	GetColumns(ctx context.Context, db Querier, tenant, table string) (map[string]string, error)

	// SystemTablesSQL returns the DDL for the system catalog tables.
	SystemTablesSQL() string

	// InExpr builds a SQL expression for the IN operator.
	// PostgreSQL: "field = ANY($n)" with a single array param.
	// SQLite: "field IN (?n, ?n+1, ...)" expanding the slice.
	// Empty value lists are handled by the query builder before this is called.
	InExpr(field string, pb ParamBuilder, values []any) string

	// NotInExpr builds a SQL expression for the NOT IN operator.
	NotInExpr(field string, pb ParamBuilder, values []any) string

	// MapError inspects a driver error and returns a well-known sentinel error
	// if applicable.
	MapError(err error) error

	// IsDuplicateTable reports whether err is a benign table-already-exists error.
	IsDuplicateTable(err error) bool

	// IsDuplicateColumn reports whether err is a benign column-already-exists error.
	IsDuplicateColumn(err error) bool

	// NeedsBoolFix returns true if boolean columns come back as integers (SQLite).
	NeedsBoolFix() bool
}

// ParamBuilder accumulates query parameters and generates dialect-specific
// placeholders. The 1-based index is threaded through it, so clauses appended
// in sequence (caller filters, then row restrictions, then pagination) never
// collide.
type ParamBuilder interface {
	// Add appends a value and returns the placeholder string.
	Add(v any) string

	// Params returns all accumulated parameter values.
	Params() []any

	// Count returns the number of parameters added so far.
	Count() int
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

// quoteIdent is the single identifier canonicalization shared by both dialects:
// internal double quotes are doubled and the name is wrapped in double quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// --- PostgreSQL ParamBuilder ---

type pgParamBuilder struct {
	params []any
	n      int
}

func (p *pgParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

func (p *pgParamBuilder) Params() []any { return p.params }
func (p *pgParamBuilder) Count() int    { return p.n }

// --- SQLite ParamBuilder ---

type sqliteParamBuilder struct {
	params []any
	n      int
}

func (p *sqliteParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("?%d", p.n)
}

func (p *sqliteParamBuilder) Params() []any { return p.params }
func (p *sqliteParamBuilder) Count() int    { return p.n }

// compile-time interface checks
var (
	_ ParamBuilder = (*pgParamBuilder)(nil)
	_ ParamBuilder = (*sqliteParamBuilder)(nil)
)
