package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "INTAKE_POSTGRES_DSN"
)

func main() {
	var (
		direction string
		steps     int
		dsn       string
	)

	flag.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flag.Parse()

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv(envPostgresDSN))
	}
	if dsn == "" {
		fail(envPostgresDSN + " (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := run(ctx, store, direction, steps, os.Stdout); err != nil {
		fail("%v", err)
	}
}

// migrator: часть Store, нужная командам миграции.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) ([]postgres.MigrationState, error)
	MigrateDown(ctx context.Context, steps int) ([]postgres.MigrationState, error)
	Migrations(ctx context.Context) ([]postgres.MigrationState, error)
}

func run(ctx context.Context, store migrator, direction string, steps int, out io.Writer) error {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "up":
		applied, err := store.MigrateUp(ctx, steps)
		if err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		printStates(out, "applied", applied)
	case "down":
		if steps <= 0 {
			steps = 1
		}
		rolledBack, err := store.MigrateDown(ctx, steps)
		if err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		printStates(out, "rolled back", rolledBack)
	case "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", direction)
	}

	states, err := store.Migrations(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	version, count := summarize(states)
	_, _ = fmt.Fprintf(out, "migration status: version=%d applied=%d/%d\n", version, count, len(states))
	return nil
}

func printStates(out io.Writer, verb string, states []postgres.MigrationState) {
	if len(states) == 0 {
		_, _ = fmt.Fprintf(out, "nothing %s\n", verb)
		return
	}
	for _, state := range states {
		_, _ = fmt.Fprintf(out, "%s %04d_%s\n", verb, state.Version, state.Name)
	}
}

// summarize возвращает старшую применённую версию и число применённых миграций.
func summarize(states []postgres.MigrationState) (int64, int) {
	var (
		version int64
		count   int
	)
	for _, state := range states {
		if !state.Applied {
			continue
		}
		count++
		if state.Version > version {
			version = state.Version
		}
	}
	return version, count
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
