package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

type migration struct {
	Name string
	SQL  string
}

// readMigrations returns the embedded migrations sorted by filename.
func readMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{Name: strings.TrimSuffix(e.Name(), ".up.sql"), SQL: string(content)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Migrate applies every migration not yet recorded in schema_migrations,
// each in its own transaction. It returns the names applied.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	migrations, err := readMigrations()
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version    TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )
    `); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var applied []string
	for _, m := range migrations {
		err := s.WithTx(ctx, func(tx *Tx) error {
			tag, err := tx.tx.Exec(ctx,
				`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, m.Name)
			if err != nil {
				return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if _, err := tx.tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", m.Name, err)
			}
			applied = append(applied, m.Name)
			return nil
		})
		if err != nil {
			return applied, err
		}
	}
	if len(applied) > 0 {
		s.log.Info("Applied migrations.", zap.Strings("versions", applied))
	}
	return applied, nil
}
