package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Migration files live at migration/{driver}/NN__description.sql and are
// applied in lexical order. Applied versions are tracked in schema_migrations.

//go:embed migration
var migrationFS embed.FS

// MigrateFileNameSplit separates the patch number from the description, e.g. "01__user_record.sql".
const MigrateFileNameSplit = "__"

const createMigrationTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER NOT NULL PRIMARY KEY,
	description TEXT NOT NULL,
	applied_ts BIGINT NOT NULL
)`

type migrationFile struct {
	version     int
	description string
	path        string
}

// Migrate applies every migration newer than the recorded schema version.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.driver.GetDB()
	if _, err := db.ExecContext(ctx, createMigrationTable); err != nil {
		return errors.Wrap(err, "failed to create schema_migrations")
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}

	files, err := s.migrationFiles()
	if err != nil {
		return err
	}

	applied := 0
	for _, f := range files {
		if f.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, f); err != nil {
			return err
		}
		applied++
	}
	slog.Info("migration completed",
		slog.String("driver", s.profile.Driver),
		slog.Int("fromVersion", current),
		slog.Int("migrationsApplied", applied))
	return nil
}

func (s *Store) migrationFiles() ([]migrationFile, error) {
	paths, err := fs.Glob(migrationFS, fmt.Sprintf("migration/%s/*.sql", s.profile.Driver))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migration files")
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no migrations for driver %q", s.profile.Driver)
	}
	sort.Strings(paths)

	files := make([]migrationFile, 0, len(paths))
	for _, p := range paths {
		f, err := parseMigrationFileName(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// parseMigrationFileName expects "NN__description.sql".
func parseMigrationFileName(path string) (migrationFile, error) {
	name := filepath.Base(path)
	parts := strings.SplitN(strings.TrimSuffix(name, ".sql"), MigrateFileNameSplit, 2)
	if len(parts) != 2 {
		return migrationFile{}, errors.Errorf("invalid migration filename format (missing %s): %s", MigrateFileNameSplit, name)
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return migrationFile{}, errors.Errorf("migration filename must start with a number: %s", name)
	}
	return migrationFile{version: version, description: parts[1], path: path}, nil
}

func (s *Store) applyMigration(ctx context.Context, f migrationFile) error {
	bytes, err := migrationFS.ReadFile(f.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read migration file: %s", f.path)
	}

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	slog.Info("applying migration", slog.String("file", f.path), slog.Int("version", f.version))
	if err := s.execute(ctx, tx, string(bytes)); err != nil {
		return errors.Wrapf(err, "failed to execute migration %s", f.path)
	}

	insert := "INSERT INTO schema_migrations (version, description, applied_ts) VALUES (?, ?, ?)"
	if s.profile.Driver == "postgres" {
		insert = "INSERT INTO schema_migrations (version, description, applied_ts) VALUES ($1, $2, $3)"
	}
	if _, err := tx.ExecContext(ctx, insert, f.version, f.description, s.now().Unix()); err != nil {
		return errors.Wrapf(err, "failed to record migration %s", f.path)
	}
	return errors.Wrap(tx.Commit(), "failed to commit migration transaction")
}

// execute runs a migration script. lib/pq rejects multiple statements with
// arguments, so postgres scripts are split and run one statement at a time.
func (s *Store) execute(ctx context.Context, tx *sql.Tx, script string) error {
	if s.profile.Driver != "postgres" {
		_, err := tx.ExecContext(ctx, script)
		return err
	}
	for i, stmt := range splitSQL(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d", i+1)
		}
	}
	return nil
}

// splitSQL splits a script on semicolons outside single-quoted strings and drops comment lines.
func splitSQL(script string) []string {
	var statements []string
	var current strings.Builder
	inQuote := false

	for _, line := range strings.Split(script, "\n") {
		if !inQuote && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case r == '\'':
				inQuote = !inQuote
				current.WriteRune(r)
			case r == ';' && !inQuote:
				if stmt := strings.TrimSpace(current.String()); stmt != "" {
					statements = append(statements, stmt)
				}
				current.Reset()
			default:
				current.WriteRune(r)
			}
		}
		current.WriteByte('\n')
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
