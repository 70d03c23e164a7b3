package store

import (
	"context"
	"fmt"
	"strings"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) QuoteIdent(name string) string { return quoteIdent(name) }
func (d *PostgresDialect) LikeOperator() string          { return "ILIKE" }
func (d *PostgresDialect) NowExpr() string               { return "NOW()" }
func (d *PostgresDialect) NeedsBoolFix() bool            { return false }

func (d *PostgresDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "string":
		return "TEXT"
	case "integer":
		return "INTEGER"
	case "number":
		return "NUMERIC"
	case "boolean":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "datetime":
		return "TIMESTAMPTZ"
	case "json", "array", "object":
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (d *PostgresDialect) QualifyTable(tenant, table string) string {
	if tenant == "" {
		return quoteIdent(table)
	}
	return quoteIdent(tenant) + "." + quoteIdent(table)
}

func (d *PostgresDialect) EnsureTenant(ctx context.Context, db Querier, tenant string) error {
	if tenant == "" {
		return nil
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(tenant)))
	return err
}

func (d *PostgresDialect) TableExists(ctx context.Context, db Querier, tenant, table string) (bool, error) {
	schemaName := tenant
	if schemaName == "" {
		schemaName = "public"
	}
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = $2)`,
		table, schemaName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) GetColumns(ctx context.Context, db Querier, tenant, table string) (map[string]string, error) {
	schemaName := tenant
	if schemaName == "" {
		schemaName = "public"
	}
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND table_schema = $2`,
		table, schemaName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

func (d *PostgresDialect) SystemTablesSQL() string {
	return pgSystemTablesSQL
}

func (d *PostgresDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	ph := pb.Add(values)
	return fmt.Sprintf("%s = ANY(%s)", field, ph)
}

func (d *PostgresDialect) NotInExpr(field string, pb ParamBuilder, values []any) string {
	ph := pb.Add(values)
	return fmt.Sprintf("%s != ALL(%s)", field, ph)
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// With pgx/stdlib, the underlying error message includes the PG code.
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

func (d *PostgresDialect) IsDuplicateTable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "42P07") || strings.Contains(errStr, "already exists")
}

func (d *PostgresDialect) IsDuplicateColumn(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "42701") || strings.Contains(errStr, "already exists")
}

// --- PostgreSQL system catalog DDL ---

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS system_entities (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name         TEXT NOT NULL UNIQUE,
    table_name   TEXT NOT NULL,
    display_name TEXT DEFAULT '',
    description  TEXT DEFAULT '',
    is_active    BOOLEAN NOT NULL DEFAULT true,
    created_at   TIMESTAMPTZ DEFAULT NOW(),
    updated_at   TIMESTAMPTZ DEFAULT NOW(),
    metadata     JSONB DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS system_fields (
    id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    entity_id        UUID NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    name             TEXT NOT NULL,
    type             TEXT NOT NULL DEFAULT 'string',
    is_required      BOOLEAN NOT NULL DEFAULT false,
    is_unique        BOOLEAN NOT NULL DEFAULT false,
    is_primary_key   BOOLEAN NOT NULL DEFAULT false,
    default_value    TEXT,
    validation_rules JSONB DEFAULT '[]',
    display_name     TEXT DEFAULT '',
    order_index      INTEGER NOT NULL DEFAULT 0,
    is_active        BOOLEAN NOT NULL DEFAULT true,
    reference_entity TEXT DEFAULT '',
    metadata         JSONB DEFAULT '{}',
    UNIQUE(entity_id, name)
);

CREATE TABLE IF NOT EXISTS system_permissions (
    id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    entity_id         UUID NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    role              TEXT NOT NULL,
    action            TEXT NOT NULL,
    conditions        JSONB DEFAULT '[]',
    is_allowed        BOOLEAN NOT NULL DEFAULT false,
    field_permissions JSONB DEFAULT '{}',
    created_at        TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS system_views (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    entity_id    UUID NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    name         TEXT NOT NULL,
    query_config JSONB NOT NULL DEFAULT '{}',
    fields       JSONB DEFAULT '[]',
    is_default   BOOLEAN NOT NULL DEFAULT false,
    is_public    BOOLEAN NOT NULL DEFAULT false,
    created_by   TEXT DEFAULT '',
    metadata     JSONB DEFAULT '{}',
    UNIQUE(entity_id, name)
);

CREATE TABLE IF NOT EXISTS system_workflows (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    entity_id     UUID NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    name          TEXT NOT NULL,
    trigger_event TEXT NOT NULL,
    conditions    JSONB DEFAULT '{}',
    actions       JSONB DEFAULT '[]',
    is_active     BOOLEAN NOT NULL DEFAULT true,
    order_index   INTEGER NOT NULL DEFAULT 0,
    metadata      JSONB DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS system_rls (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    entity_id  UUID NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    role       TEXT NOT NULL,
    view_id    UUID,
    rls_config JSONB NOT NULL DEFAULT '{}',
    is_active  BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS system_audit (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    tenant      TEXT NOT NULL DEFAULT '',
    entity      TEXT NOT NULL,
    record_id   TEXT,
    action      TEXT NOT NULL,
    user_id     TEXT,
    status      TEXT NOT NULL DEFAULT 'ok',
    duration_ms BIGINT,
    detail      JSONB,
    created_at  TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS system_installation (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    version      TEXT NOT NULL,
    installed_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at   TIMESTAMPTZ DEFAULT NOW(),
    metadata     JSONB DEFAULT '{}'
);
`

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
