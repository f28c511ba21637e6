package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsDir     = "sql/migrations"
	migrationLockKey  = int64(20260501)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

	errEmptyMigrationSet = errors.New("no migration files found")
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationState описывает одну миграцию и факт её применения.
type MigrationState struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// MigrateUp применяет ожидающие миграции; steps=0 применяет все.
// Возвращает применённые миграции в порядке выполнения.
func (s *Store) MigrateUp(ctx context.Context, steps int) ([]MigrationState, error) {
	all, err := loadMigrations(migrationsFS)
	if err != nil {
		return nil, err
	}

	var done []MigrationState
	err = s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range planUp(all, applied, steps) {
			if err := runMigration(ctx, conn, m.Version, m.Name, m.UpSQL, true); err != nil {
				return err
			}
			done = append(done, MigrationState{Version: m.Version, Name: m.Name, Applied: true, AppliedAt: time.Now().UTC()})
		}
		return nil
	})
	return done, err
}

// MigrateDown откатывает последние steps миграций; steps<=0 означает один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) ([]MigrationState, error) {
	if steps <= 0 {
		steps = 1
	}
	all, err := loadMigrations(migrationsFS)
	if err != nil {
		return nil, err
	}

	var done []MigrationState
	err = s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		plan, err := planDown(all, applied, steps)
		if err != nil {
			return err
		}
		for _, m := range plan {
			if err := runMigration(ctx, conn, m.Version, m.Name, m.DownSQL, false); err != nil {
				return err
			}
			done = append(done, MigrationState{Version: m.Version, Name: m.Name})
		}
		return nil
	})
	return done, err
}

// Migrations возвращает все известные миграции с отметкой о применении.
func (s *Store) Migrations(ctx context.Context) ([]MigrationState, error) {
	all, err := loadMigrations(migrationsFS)
	if err != nil {
		return nil, err
	}

	var states []MigrationState
	err = s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		states = mergeStates(all, applied)
		return nil
	})
	return states, err
}

func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// runMigration выполняет тело миграции и запись в schema_migrations одной транзакцией.
func runMigration(ctx context.Context, conn *sql.Conn, version int64, name, body string, up bool) error {
	direction := "down"
	if up {
		direction = "up"
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %d): %w", direction, version, err)
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s migration %d_%s: %w", direction, version, name, err)
	}

	if up {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`, version, name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version)
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s migration %d_%s: %w", direction, version, name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", direction, version, name, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]time.Time, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]time.Time)
	for rows.Next() {
		var (
			version   int64
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		result[version] = appliedAt.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return result, nil
}

// planUp выбирает неприменённые миграции по возрастанию версии.
func planUp(all []migration, applied map[int64]time.Time, steps int) []migration {
	var plan []migration
	for _, m := range all {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		plan = append(plan, m)
		if steps > 0 && len(plan) >= steps {
			break
		}
	}
	return plan
}

// planDown выбирает последние применённые миграции по убыванию версии.
func planDown(all []migration, applied map[int64]time.Time, steps int) ([]migration, error) {
	byVersion := make(map[int64]migration, len(all))
	for _, m := range all {
		byVersion[m.Version] = m
	}

	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	if len(versions) > steps {
		versions = versions[:steps]
	}

	plan := make([]migration, 0, len(versions))
	for _, version := range versions {
		m, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		plan = append(plan, m)
	}
	return plan, nil
}

func mergeStates(all []migration, applied map[int64]time.Time) []MigrationState {
	states := make([]MigrationState, 0, len(all))
	for _, m := range all {
		at, ok := applied[m.Version]
		states = append(states, MigrationState{Version: m.Version, Name: m.Name, Applied: ok, AppliedAt: at})
	}
	return states
}

// loadMigrations собирает пары up/down из fsys, отсортированные по версии.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errEmptyMigrationSet
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		matches := migrationFilePattern.FindStringSubmatch(base)
		if matches == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		name, direction := matches[2], matches[3]

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == "down" {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
