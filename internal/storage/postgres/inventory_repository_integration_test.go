package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/mubai-gl/monoshop/internal/domain"
)

func TestInventoryRepository_PostgresCreateGetAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	ctx := context.Background()

	record := domain.InventoryRecord{
		ProductID:      "product-inv-1",
		QuantityOnHand: 10,
	}
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create inventory record: %v", err)
	}
	if err := repo.Create(ctx, record); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict on duplicate create, got %v", err)
	}

	got, err := repo.Get(ctx, record.ProductID)
	if err != nil {
		t.Fatalf("get inventory record: %v", err)
	}
	if got.QuantityOnHand != 10 || got.ReservedQuantity != 0 {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := repo.Get(ctx, "missing-product"); !errors.Is(err, domain.ErrProductNotTracked) {
		t.Fatalf("expected ErrProductNotTracked, got %v", err)
	}

	got.ReservedQuantity = 3
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("save inventory record: %v", err)
	}

	updated, err := repo.Get(ctx, record.ProductID)
	if err != nil {
		t.Fatalf("get updated record: %v", err)
	}
	if updated.ReservedQuantity != 3 {
		t.Fatalf("unexpected reserved quantity: %d", updated.ReservedQuantity)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("unexpected version: got=%d want=%d", updated.Version, got.Version+1)
	}

	stale := got
	stale.Version = 42
	if err := repo.Save(ctx, stale); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict on stale save, got %v", err)
	}
}

func TestInventoryRepository_PostgresSaveBatchAllOrNothing(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	ctx := context.Background()

	for _, id := range []string{"batch-a", "batch-b"} {
		if err := repo.Create(ctx, domain.InventoryRecord{ProductID: id, QuantityOnHand: 5}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	records, err := repo.GetByProductIDs(ctx, []string{"batch-a", "batch-b", "batch-missing"})
	if err != nil {
		t.Fatalf("get by product ids: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	// Вторая запись с несовпавшей версией откатывает весь пакет.
	records[0].ReservedQuantity = 2
	records[1].ReservedQuantity = 2
	records[1].Version = 42
	if err := repo.SaveBatch(ctx, records); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for stale batch, got %v", err)
	}

	after, err := repo.GetByProductIDs(ctx, []string{"batch-a", "batch-b"})
	if err != nil {
		t.Fatalf("reread records: %v", err)
	}
	for _, record := range after {
		if record.ReservedQuantity != 0 {
			t.Fatalf("batch must roll back entirely, got %+v", record)
		}
	}

	fresh, err := repo.GetByProductIDs(ctx, []string{"batch-a", "batch-b"})
	if err != nil {
		t.Fatalf("fetch fresh records: %v", err)
	}
	for i := range fresh {
		fresh[i].ReservedQuantity = 1
	}
	if err := repo.SaveBatch(ctx, fresh); err != nil {
		t.Fatalf("save valid batch: %v", err)
	}

	saved, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	for _, record := range saved {
		if record.ReservedQuantity != 1 {
			t.Fatalf("expected reserved=1 after batch, got %+v", record)
		}
	}
}

func TestInventoryRepository_PostgresSaveBatchUnknownProduct(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	ctx := context.Background()

	err := repo.SaveBatch(ctx, []domain.InventoryRecord{
		{ProductID: "never-created", QuantityOnHand: 1},
	})
	if !errors.Is(err, domain.ErrProductNotTracked) {
		t.Fatalf("expected ErrProductNotTracked, got %v", err)
	}
}
