// Package migrate executes embedded SQL migrations for the durability
// collaborator's schema.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

const defaultMigrationsTable = "schema_migrations"

// Manager applies .up.sql/.down.sql pairs from a file system, typically an
// embed.FS, recording progress in a bookkeeping table.
type Manager struct {
	db    *sql.DB
	fsys  fs.FS
	table string
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the bookkeeping table name.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// NewManager constructs a Manager over the given migration source.
func NewManager(db *sql.DB, fsys fs.FS, opts ...Option) *Manager {
	m := &Manager{db: db, fsys: fsys, table: defaultMigrationsTable}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type migration struct {
	Base string // file name without the .up.sql/.down.sql suffix
	Path string
}

// Up applies all pending migrations in lexical order.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return err
	}
	files, err := collectSQL(m.fsys, ".up.sql")
	if err != nil {
		return err
	}
	for _, mig := range files {
		if executed[mig.Base] {
			continue
		}
		if err := m.apply(ctx, mig, true); err != nil {
			return fmt.Errorf("apply %s: %w", mig.Base, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	var last string
	row := m.db.QueryRowContext(ctx,
		fmt.Sprintf(`select name from %s order by executed_at desc, name desc limit 1`, m.table))
	if err := row.Scan(&last); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	files, err := collectSQL(m.fsys, ".down.sql")
	if err != nil {
		return err
	}
	for _, mig := range files {
		if mig.Base == last {
			return m.apply(ctx, mig, false)
		}
	}
	return fmt.Errorf("no down migration for %s", last)
}

// Status lists applied migrations in execution order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name, executed_at::text from %s order by executed_at asc, name asc`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name, at string
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s\t%s", name, at))
	}
	return out, rows.Err()
}

func (m *Manager) apply(ctx context.Context, mig migration, up bool) error {
	body, err := fs.ReadFile(m.fsys, mig.Path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if up {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`insert into %s (name) values ($1)`, m.table), mig.Base)
	} else {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`delete from %s where name = $1`, m.table), mig.Base)
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			executed_at timestamptz not null default now()
		)`, m.table))
	return err
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executed := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		executed[name] = true
	}
	return executed, rows.Err()
}

func collectSQL(fsys fs.FS, suffix string) ([]migration, error) {
	var out []migration
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, suffix) {
			return nil
		}
		base := strings.TrimSuffix(d.Name(), suffix)
		out = append(out, migration{Base: base, Path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out, nil
}
