package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// migrationLockKey serializes migrators of different processes through a
// transaction-scoped advisory lock.
const migrationLockKey = 0x6d6972726f72 // "mirror"

// Migration is one up/down pair, identified by its numeric file prefix.
type Migration struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Migrator applies {version}_{name}.up.sql files in version order and rolls
// them back with the matching .down.sql. Applied versions live in
// mirror.schema_migrations.
type Migrator struct {
	db   *sql.DB
	fsys fs.FS
	log  zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, log zerolog.Logger) *Migrator {
	return NewMigratorFS(db, os.DirFS(migrationsDir), log)
}

// NewMigratorFS reads migration files from the root of fsys.
func NewMigratorFS(db *sql.DB, fsys fs.FS, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, fsys: fsys, log: log}
}

// Up applies every pending migration, one transaction each.
func (m *Migrator) Up(ctx context.Context) error {
	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	for _, name := range pending {
		version := versionOf(name)
		err := m.inTx(ctx, name, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO mirror.schema_migrations (version, name) VALUES ($1, $2)
				 ON CONFLICT (version) DO NOTHING`,
				version, name)
			return err
		})
		if err != nil {
			return err
		}
		m.log.Info().Str("migration", name).Msg("applied migration")
	}
	return nil
}

// Down rolls back the newest applied migration. It is a no-op on an empty
// history.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.bootstrap(ctx); err != nil {
		return err
	}

	var version, name string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, name FROM mirror.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &name)
	if errors.Is(err, sql.ErrNoRows) {
		m.log.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest migration: %w", err)
	}

	down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
	err = m.inTx(ctx, down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM mirror.schema_migrations WHERE version = $1`, version)
		return err
	})
	if err != nil {
		return err
	}
	m.log.Info().Str("migration", down).Msg("rolled back migration")
	return nil
}

// Pending lists the up files not yet applied, oldest first.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range status {
		if s.AppliedAt == nil {
			out = append(out, s.Name)
		}
	}
	return out, nil
}

// Status lists every migration file with the time it was applied, if it was.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.bootstrap(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	files, err := fs.Glob(m.fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	out := make([]Migration, 0, len(files))
	for _, f := range files {
		mg := Migration{Version: versionOf(f), Name: f}
		if at, ok := applied[mg.Version]; ok {
			mg.AppliedAt = &at
		}
		out = append(out, mg)
	}
	return out, nil
}

// inTx runs file and then record under the advisory lock, committing both or
// neither.
func (m *Migrator) inTx(ctx context.Context, file string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(m.fsys, path.Clean(file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("lock for %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func (m *Migrator) bootstrap(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE SCHEMA IF NOT EXISTS mirror;
		CREATE TABLE IF NOT EXISTS mirror.schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM mirror.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			v  string
			at time.Time
		)
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		out[v] = at
	}
	return out, rows.Err()
}

// versionOf returns the numeric prefix of a migration file name: "000001" for
// "000001_mirror_schema.up.sql".
func versionOf(name string) string {
	version, _, _ := strings.Cut(name, "_")
	return version
}
