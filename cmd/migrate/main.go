// Управление схемой базы monoshop: применение и откат SQL-миграций,
// встроенных в internal/storage/postgres.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mubai-gl/monoshop/internal/storage/postgres"
)

const runTimeout = 30 * time.Second

type command struct {
	action string
	steps  int
	dsn    string
}

func readArgs() (command, error) {
	var cmd command

	flag.StringVar(&cmd.action, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&cmd.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&cmd.dsn, "dsn", "", "PostgreSQL DSN (fallback: MONOSHOP_POSTGRES_DSN)")
	flag.Parse()

	cmd.action = strings.ToLower(strings.TrimSpace(cmd.action))
	switch cmd.action {
	case "up", "down", "status":
	default:
		return cmd, fmt.Errorf("unsupported direction: %s (use up|down|status)", cmd.action)
	}

	if strings.TrimSpace(cmd.dsn) == "" {
		cmd.dsn = strings.TrimSpace(os.Getenv("MONOSHOP_POSTGRES_DSN"))
	}
	if cmd.dsn == "" {
		return cmd, errors.New("MONOSHOP_POSTGRES_DSN (or -dsn) is required")
	}

	if cmd.action == "down" && cmd.steps <= 0 {
		cmd.steps = 1
	}

	return cmd, nil
}

// run выполняет команду и возвращает строку-итог для stdout.
func run(ctx context.Context, store *postgres.Store, cmd command) (string, error) {
	switch cmd.action {
	case "up":
		if err := store.MigrateUp(ctx, cmd.steps); err != nil {
			return "", fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, cmd.steps); err != nil {
			return "", fmt.Errorf("migrate down failed: %w", err)
		}
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("migration status failed: %w", err)
	}
	return fmt.Sprintf("migrate %s ok: version=%d applied=%d", cmd.action, version, applied), nil
}

func main() {
	cmd, err := readArgs()
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, cmd.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	summary, err := run(ctx, store, cmd)
	if err != nil {
		fail("%v", err)
	}
	fmt.Println(summary)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
