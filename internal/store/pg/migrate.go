package pg

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"backoffice.io/internal/obs"
)

// Migrate applies the embedded schema files that have not run yet, in name
// order. Each file and its schema_migrations row commit together, so a
// failed file leaves nothing behind and is retried on the next start.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	return s.migrate(ctx, migrations, "migrations")
}

func (s *Store) migrate(ctx context.Context, fsys fs.FS, dir string) ([]string, error) {
	if _, err := s.db.ExecContext(ctx, `
		create table if not exists schema_migrations (
			name text primary key,
			applied_at timestamptz not null default now()
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	logger := obs.Component("store.pg")
	var ran []string
	for _, name := range names {
		base := path.Base(name)
		if applied[base] {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return ran, err
		}
		if err := s.applyMigration(ctx, base, string(body)); err != nil {
			return ran, fmt.Errorf("apply migration %s: %w", base, err)
		}
		logger.InfoContext(ctx, "migration applied", "name", base)
		ran = append(ran, base)
	}
	return ran, nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `select name from schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// applyMigration runs a whole file as one simple-protocol exec; pgx accepts
// several statements when no arguments are bound.
func (s *Store) applyMigration(ctx context.Context, name, body string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `insert into schema_migrations (name, applied_at) values ($1, $2)`,
		name, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}
