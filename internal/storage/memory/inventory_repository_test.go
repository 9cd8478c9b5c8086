package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mubai-gl/monoshop/internal/domain"
)

func seedRecord(t *testing.T, repo domain.InventoryRepository, productID string, onHand, reserved int64) domain.InventoryRecord {
	t.Helper()

	now := time.Now().UTC()
	record := domain.InventoryRecord{
		ProductID:        productID,
		QuantityOnHand:   onHand,
		ReservedQuantity: reserved,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatalf("create record %s: %v", productID, err)
	}
	return record
}

func TestInventoryRepository_GetMissing(t *testing.T) {
	repo := NewInventoryRepository()

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrProductNotTracked) {
		t.Fatalf("expected not tracked, got %v", err)
	}
}

func TestInventoryRepository_SaveChecksVersion(t *testing.T) {
	repo := NewInventoryRepository()
	ctx := context.Background()
	seedRecord(t, repo, "product-1", 10, 0)

	record, err := repo.Get(ctx, "product-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	record.ReservedQuantity = 2
	if err := repo.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.Save(ctx, record); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestInventoryRepository_SaveBatchAllOrNothing(t *testing.T) {
	repo := NewInventoryRepository()
	ctx := context.Background()
	seedRecord(t, repo, "product-1", 10, 0)
	seedRecord(t, repo, "product-2", 5, 0)

	records, err := repo.GetByProductIDs(ctx, []string{"product-1", "product-2"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// Перекрываем product-2 конкурентной записью, чтобы версия пакета устарела.
	stale, err := repo.Get(ctx, "product-2")
	if err != nil {
		t.Fatalf("get product-2: %v", err)
	}
	stale.ReservedQuantity = 1
	if err := repo.Save(ctx, stale); err != nil {
		t.Fatalf("concurrent save: %v", err)
	}

	for i := range records {
		records[i].ReservedQuantity += 3
	}
	if err := repo.SaveBatch(ctx, records); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected batch conflict, got %v", err)
	}

	// product-1 не должен быть затронут сорвавшимся пакетом.
	first, err := repo.Get(ctx, "product-1")
	if err != nil {
		t.Fatalf("get product-1: %v", err)
	}
	if first.ReservedQuantity != 0 {
		t.Fatalf("expected product-1 untouched, got reserved=%d", first.ReservedQuantity)
	}
}

func TestInventoryRepository_SaveBatchSuccess(t *testing.T) {
	repo := NewInventoryRepository()
	ctx := context.Background()
	seedRecord(t, repo, "product-1", 10, 0)
	seedRecord(t, repo, "product-2", 5, 0)

	records, err := repo.GetByProductIDs(ctx, []string{"product-1", "product-2"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for i := range records {
		records[i].ReservedQuantity = 1
	}

	if err := repo.SaveBatch(ctx, records); err != nil {
		t.Fatalf("save batch: %v", err)
	}

	for _, productID := range []string{"product-1", "product-2"} {
		record, err := repo.Get(ctx, productID)
		if err != nil {
			t.Fatalf("get %s: %v", productID, err)
		}
		if record.ReservedQuantity != 1 {
			t.Fatalf("expected reserved 1 on %s, got %d", productID, record.ReservedQuantity)
		}
		if record.Version != 1 {
			t.Fatalf("expected version bump on %s, got %d", productID, record.Version)
		}
	}
}

func TestInventoryRepository_ConcurrentCAS(t *testing.T) {
	repo := NewInventoryRepository()
	ctx := context.Background()
	seedRecord(t, repo, "product-1", 100, 0)

	const writers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	snapshot, err := repo.Get(ctx, "product-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidate := snapshot
			candidate.ReservedQuantity++
			if err := repo.Save(ctx, candidate); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one CAS winner, got %d", succeeded)
	}
}

func TestInventoryRepository_ListSorted(t *testing.T) {
	repo := NewInventoryRepository()
	ctx := context.Background()
	seedRecord(t, repo, "product-b", 1, 0)
	seedRecord(t, repo, "product-a", 2, 0)

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].ProductID != "product-a" {
		t.Fatalf("expected sorted records, got %+v", records)
	}
}
