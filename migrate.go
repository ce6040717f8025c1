package codex

import (
	"context"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// migrationsTable tracks which migration files have run. Its shape cannot
// change except via a migration of its own.
const migrationsTable = "codex_migrations"

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS ` + migrationsTable + ` (
	filename TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate runs the pending .sql files of fsys in lexical order. Each file
// executes inside its own transaction together with the insert of its
// tracking row, so a file is either fully applied and recorded or neither.
// Already-applied files are skipped and logged, never an error.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	return runMigrations(ctx, db, fsys)
}

func runMigrations(ctx context.Context, c conn, fsys fs.FS) error {
	log := c.logger()

	if _, err := c.Exec(ctx, createMigrationsTable); err != nil {
		return xerrors.Errorf("create migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, c)
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return xerrors.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if applied[name] {
			log.Debug("migration already applied", zap.String("file", name))
			continue
		}
		contents, err := fs.ReadFile(fsys, name)
		if err != nil {
			return xerrors.Errorf("read migration %s: %w", name, err)
		}
		err = c.Tx(ctx, func(tx Executor) error {
			if _, err := tx.Exec(ctx, string(contents)); err != nil {
				return err
			}
			record := renderInsert(migrationsTable, []string{"filename"}, []any{name}, nil)
			_, err := tx.Exec(ctx, record.sql, record.args...)
			return err
		})
		if err != nil {
			return xerrors.Errorf("apply migration %s: %w", name, err)
		}
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

func appliedMigrations(ctx context.Context, c conn) (map[string]bool, error) {
	rows, err := c.Query(ctx, "SELECT filename FROM "+migrationsTable)
	if err != nil {
		return nil, err
	}
	raw, err := collectRows(rows)
	if err != nil {
		return nil, err
	}
	applied := map[string]bool{}
	for _, row := range raw {
		if len(row) == 1 {
			if name, ok := row[0].(string); ok {
				applied[name] = true
			}
		}
	}
	return applied, nil
}
