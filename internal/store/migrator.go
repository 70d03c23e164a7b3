package store

import (
	"context"
	"fmt"
	"strings"

	"schemakit/internal/schema"
)

// SchemaError reports a DDL failure that is not attributable to a benign
// concurrent-ensure race.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema for table %s: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Migrator materializes and evolves physical entity tables from field
// definitions. Evolution is additive-only: columns are added, never dropped
// or renamed, and tables are never dropped.
type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// Ensure makes the physical table for (entity, tenant) match the field
// definitions. Idempotent; safe to call concurrently for the same entity
// because create/alter races are resolved at the SQL level
// (CREATE TABLE IF NOT EXISTS, duplicate-column errors treated as success).
func (m *Migrator) Ensure(ctx context.Context, cfg *schema.EntityConfiguration, tenant string) error {
	d := m.store.Dialect
	table := cfg.Entity.TableName

	if err := d.EnsureTenant(ctx, m.store.DB, tenant); err != nil {
		return &SchemaError{Table: table, Err: fmt.Errorf("ensure tenant %s: %w", tenant, err)}
	}

	exists, err := d.TableExists(ctx, m.store.DB, tenant, table)
	if err != nil {
		return &SchemaError{Table: table, Err: fmt.Errorf("check table exists: %w", err)}
	}

	if !exists {
		if err := m.createTable(ctx, cfg, tenant); err != nil {
			return err
		}
	} else {
		if err := m.alterTable(ctx, cfg, tenant); err != nil {
			return err
		}
	}

	return m.ensureUniqueIndexes(ctx, cfg, tenant)
}

func (m *Migrator) createTable(ctx context.Context, cfg *schema.EntityConfiguration, tenant string) error {
	d := m.store.Dialect
	table := cfg.Entity.TableName

	var cols []string
	declared := make(map[string]bool)
	for _, f := range cfg.ActiveFields() {
		cols = append(cols, m.columnDef(f))
		declared[f.Name] = true
	}

	// Synthetic id column when no field is flagged primary key. No PK
	// constraint is forced onto it; ids are generated in application code.
	pk := cfg.PrimaryKeyFields()
	if len(pk) == 0 && !declared["id"] {
		cols = append(cols, d.QuoteIdent("id")+" "+d.ColumnType("string"))
		declared["id"] = true
	}

	for _, sys := range schema.SystemColumns {
		if declared[sys] {
			continue
		}
		colType := d.ColumnType("datetime")
		if strings.HasSuffix(sys, "_by") {
			colType = d.ColumnType("string")
		}
		cols = append(cols, d.QuoteIdent(sys)+" "+colType)
	}

	if len(pk) > 0 {
		quoted := make([]string, len(pk))
		for i, f := range pk {
			quoted[i] = d.QuoteIdent(f.Name)
		}
		cols = append(cols, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		d.QualifyTable(tenant, table), strings.Join(cols, ",\n  "))

	if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
		if d.IsDuplicateTable(err) {
			// lost a concurrent create; the winner's table serves
			return nil
		}
		return &SchemaError{Table: table, Err: fmt.Errorf("create table: %w", err)}
	}
	return nil
}

func (m *Migrator) alterTable(ctx context.Context, cfg *schema.EntityConfiguration, tenant string) error {
	d := m.store.Dialect
	table := cfg.Entity.TableName

	existing, err := d.GetColumns(ctx, m.store.DB, tenant, table)
	if err != nil {
		return &SchemaError{Table: table, Err: fmt.Errorf("get columns: %w", err)}
	}

	add := func(name, colType string) error {
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			d.QualifyTable(tenant, table), d.QuoteIdent(name), colType)
		if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
			if d.IsDuplicateColumn(err) {
				return nil
			}
			return &SchemaError{Table: table, Err: fmt.Errorf("add column %s: %w", name, err)}
		}
		return nil
	}

	for _, f := range cfg.ActiveFields() {
		if _, ok := existing[f.Name]; ok {
			continue
		}
		// NOT NULL is omitted on ALTER: existing rows have no value for it
		if err := add(f.Name, d.ColumnType(f.Type)); err != nil {
			return err
		}
	}

	for _, sys := range schema.SystemColumns {
		if _, ok := existing[sys]; ok {
			continue
		}
		colType := d.ColumnType("datetime")
		if strings.HasSuffix(sys, "_by") {
			colType = d.ColumnType("string")
		}
		if err := add(sys, colType); err != nil {
			return err
		}
	}

	if len(cfg.PrimaryKeyFields()) == 0 {
		if _, ok := existing["id"]; !ok {
			if err := add("id", d.ColumnType("string")); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Migrator) columnDef(f schema.FieldDefinition) string {
	d := m.store.Dialect
	col := d.QuoteIdent(f.Name) + " " + d.ColumnType(f.Type)
	if f.IsRequired {
		col += " NOT NULL"
	}
	return col
}

func (m *Migrator) ensureUniqueIndexes(ctx context.Context, cfg *schema.EntityConfiguration, tenant string) error {
	d := m.store.Dialect
	table := cfg.Entity.TableName

	physical := table
	if tenant != "" {
		physical = tenant + "_" + table
	}

	for _, f := range cfg.ActiveFields() {
		if !f.IsUnique {
			continue
		}
		ddl := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			d.QuoteIdent("idx_"+physical+"_"+f.Name),
			d.QualifyTable(tenant, table),
			d.QuoteIdent(f.Name))
		if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
			if d.IsDuplicateTable(err) {
				continue
			}
			return &SchemaError{Table: table, Err: fmt.Errorf("create unique index on %s: %w", f.Name, err)}
		}
	}
	return nil
}
