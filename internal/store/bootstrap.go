package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Version is the catalog schema version recorded in system_installation.
const Version = "1.0.0"

// Bootstrap creates the system catalog tables and writes the single-row
// installation marker on first run. Idempotent.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("create system tables: %w", err)
	}

	var version string
	err := s.DB.QueryRowContext(ctx, "SELECT version FROM system_installation LIMIT 1").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		insert := fmt.Sprintf("INSERT INTO system_installation (id, version) VALUES (%s, %s)",
			s.Dialect.Placeholder(1), s.Dialect.Placeholder(2))
		if _, err := s.DB.ExecContext(ctx, insert, uuid.NewString(), Version); err != nil {
			return fmt.Errorf("write installation marker: %w", err)
		}
		log.Printf("Installation marker written (version %s)", Version)
	case err != nil:
		return fmt.Errorf("read installation marker: %w", err)
	case version != Version:
		update := fmt.Sprintf("UPDATE system_installation SET version = %s, updated_at = %s",
			s.Dialect.Placeholder(1), s.Dialect.NowExpr())
		if _, err := s.DB.ExecContext(ctx, update, Version); err != nil {
			return fmt.Errorf("update installation marker: %w", err)
		}
		log.Printf("Installation marker updated: %s -> %s", version, Version)
	}
	return nil
}
