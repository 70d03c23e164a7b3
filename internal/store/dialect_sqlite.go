package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) QuoteIdent(name string) string { return quoteIdent(name) }

// SQLite LIKE is case-insensitive for ASCII by default.
func (d *SQLiteDialect) LikeOperator() string { return "LIKE" }
func (d *SQLiteDialect) NowExpr() string      { return "datetime('now')" }
func (d *SQLiteDialect) NeedsBoolFix() bool   { return true }

func (d *SQLiteDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "string":
		return "TEXT"
	case "integer":
		return "INTEGER"
	case "number":
		return "NUMERIC"
	case "boolean":
		return "INTEGER"
	case "date", "datetime":
		return "TEXT"
	case "json", "array", "object":
		return "TEXT"
	default:
		return "TEXT"
	}
}

// QualifyTable prefixes the table name because SQLite has no schema namespaces.
func (d *SQLiteDialect) QualifyTable(tenant, table string) string {
	if tenant == "" {
		return quoteIdent(table)
	}
	return quoteIdent(tenant + "_" + table)
}

func (d *SQLiteDialect) EnsureTenant(_ context.Context, _ Querier, _ string) error {
	return nil
}

// physicalName mirrors QualifyTable without quoting, for catalog lookups.
func (d *SQLiteDialect) physicalName(tenant, table string) string {
	if tenant == "" {
		return table
	}
	return tenant + "_" + table
}

func (d *SQLiteDialect) TableExists(ctx context.Context, db Querier, tenant, table string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		d.physicalName(tenant, table),
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) GetColumns(ctx context.Context, db Querier, tenant, table string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(d.physicalName(tenant, table))))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dfltValue any
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = colType
	}
	return cols, rows.Err()
}

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(phs, ", "))
}

func (d *SQLiteDialect) NotInExpr(field string, pb ParamBuilder, values []any) string {
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s NOT IN (%s)", field, strings.Join(phs, ", "))
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

func (d *SQLiteDialect) IsDuplicateTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func (d *SQLiteDialect) IsDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// --- SQLite system catalog DDL ---

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS system_entities (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    table_name   TEXT NOT NULL,
    display_name TEXT DEFAULT '',
    description  TEXT DEFAULT '',
    is_active    INTEGER NOT NULL DEFAULT 1,
    created_at   TEXT DEFAULT (datetime('now')),
    updated_at   TEXT DEFAULT (datetime('now')),
    metadata     TEXT DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS system_fields (
    id               TEXT PRIMARY KEY,
    entity_id        TEXT NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    name             TEXT NOT NULL,
    type             TEXT NOT NULL DEFAULT 'string',
    is_required      INTEGER NOT NULL DEFAULT 0,
    is_unique        INTEGER NOT NULL DEFAULT 0,
    is_primary_key   INTEGER NOT NULL DEFAULT 0,
    default_value    TEXT,
    validation_rules TEXT DEFAULT '[]',
    display_name     TEXT DEFAULT '',
    order_index      INTEGER NOT NULL DEFAULT 0,
    is_active        INTEGER NOT NULL DEFAULT 1,
    reference_entity TEXT DEFAULT '',
    metadata         TEXT DEFAULT '{}',
    UNIQUE(entity_id, name)
);

CREATE TABLE IF NOT EXISTS system_permissions (
    id                TEXT PRIMARY KEY,
    entity_id         TEXT NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    role              TEXT NOT NULL,
    action            TEXT NOT NULL,
    conditions        TEXT DEFAULT '[]',
    is_allowed        INTEGER NOT NULL DEFAULT 0,
    field_permissions TEXT DEFAULT '{}',
    created_at        TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS system_views (
    id           TEXT PRIMARY KEY,
    entity_id    TEXT NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    name         TEXT NOT NULL,
    query_config TEXT NOT NULL DEFAULT '{}',
    fields       TEXT DEFAULT '[]',
    is_default   INTEGER NOT NULL DEFAULT 0,
    is_public    INTEGER NOT NULL DEFAULT 0,
    created_by   TEXT DEFAULT '',
    metadata     TEXT DEFAULT '{}',
    UNIQUE(entity_id, name)
);

CREATE TABLE IF NOT EXISTS system_workflows (
    id            TEXT PRIMARY KEY,
    entity_id     TEXT NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    name          TEXT NOT NULL,
    trigger_event TEXT NOT NULL,
    conditions    TEXT DEFAULT '{}',
    actions       TEXT DEFAULT '[]',
    is_active     INTEGER NOT NULL DEFAULT 1,
    order_index   INTEGER NOT NULL DEFAULT 0,
    metadata      TEXT DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS system_rls (
    id         TEXT PRIMARY KEY,
    entity_id  TEXT NOT NULL REFERENCES system_entities(id) ON DELETE CASCADE,
    role       TEXT NOT NULL,
    view_id    TEXT,
    rls_config TEXT NOT NULL DEFAULT '{}',
    is_active  INTEGER NOT NULL DEFAULT 1,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS system_audit (
    id          TEXT PRIMARY KEY,
    tenant      TEXT NOT NULL DEFAULT '',
    entity      TEXT NOT NULL,
    record_id   TEXT,
    action      TEXT NOT NULL,
    user_id     TEXT,
    status      TEXT NOT NULL DEFAULT 'ok',
    duration_ms INTEGER,
    detail      TEXT,
    created_at  TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS system_installation (
    id           TEXT PRIMARY KEY,
    version      TEXT NOT NULL,
    installed_at TEXT DEFAULT (datetime('now')),
    updated_at   TEXT DEFAULT (datetime('now')),
    metadata     TEXT DEFAULT '{}'
);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
