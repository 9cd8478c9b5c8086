package postgres

import (
	"context"
	"errors"
	"testing"
	"time"
)

func migrationStatus(t *testing.T, ctx context.Context, store *Store, step string) (int64, int) {
	t.Helper()

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status %s: %v", step, err)
	}
	return version, applied
}

func TestMigrator_PostgresRoundTrip(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Сносим схему целиком, чтобы стартовать с чистого состояния.
	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if version, applied := migrationStatus(t, ctx, store, "after reset"); version != 0 || applied != 0 {
		t.Fatalf("reset must leave an empty schema, got version=%d applied=%d", version, applied)
	}

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	upVersion, upApplied := migrationStatus(t, ctx, store, "after up")
	if upVersion == 0 || upApplied == 0 {
		t.Fatalf("up must apply at least one migration, got version=%d applied=%d", upVersion, upApplied)
	}

	// Повторный up ничего не меняет.
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("repeated migrate up: %v", err)
	}
	if version, applied := migrationStatus(t, ctx, store, "after repeated up"); version != upVersion || applied != upApplied {
		t.Fatalf("repeated up changed state: version=%d applied=%d", version, applied)
	}

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down one step: %v", err)
	}
	if version, applied := migrationStatus(t, ctx, store, "after down"); applied != upApplied-1 || version >= upVersion {
		t.Fatalf("down must drop exactly one version, got version=%d applied=%d", version, applied)
	}

	// Откат пустой схемы до конца и ещё раз вхолостую.
	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("migrate down to empty: %v", err)
	}
	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("down on empty schema must be a no-op: %v", err)
	}

	// Возвращаем схему для остальных интеграционных тестов.
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("restore schema: %v", err)
	}
}

func TestMigrator_NilStore(t *testing.T) {
	t.Parallel()

	var store *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); !errors.Is(err, errStoreNotInitialized) {
		t.Fatalf("MigrateUp on nil store: want errStoreNotInitialized, got %v", err)
	}
	if err := store.MigrateDown(ctx, 1); !errors.Is(err, errStoreNotInitialized) {
		t.Fatalf("MigrateDown on nil store: want errStoreNotInitialized, got %v", err)
	}
	if _, _, err := store.MigrationStatus(ctx); !errors.Is(err, errStoreNotInitialized) {
		t.Fatalf("MigrationStatus on nil store: want errStoreNotInitialized, got %v", err)
	}
}
