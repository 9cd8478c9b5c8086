package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mubai-gl/monoshop/internal/domain"
)

func makeOrder(id, userID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:         id,
		UserID:     userID,
		Status:     domain.OrderStatusPendingPayment,
		Currency:   "CNY",
		TotalMinor: 200,
		Lines: []domain.OrderLine{
			{ProductID: "product-1", Quantity: 2, UnitPriceMinor: 100},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	order := makeOrder("order-1", "user-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != order.ID || len(got.Lines) != 1 {
		t.Fatalf("unexpected order %+v", got)
	}

	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepository_GetReturnsCopy(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, makeOrder("order-1", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Lines[0].Quantity = 99

	again, err := repo.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Lines[0].Quantity != 2 {
		t.Fatalf("stored order mutated through returned copy: %+v", again.Lines[0])
	}
}

func TestOrderRepository_SaveChecksVersion(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, makeOrder("order-1", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	order, err := repo.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	order.Status = domain.OrderStatusAwaitingPayment
	if err := repo.Save(ctx, order); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Повторное сохранение с устаревшей версией должно быть отвергнуто.
	if err := repo.Save(ctx, order); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	updated, err := repo.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get updated: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("expected version 1, got %d", updated.Version)
	}
}

func TestOrderRepository_SaveConcurrent(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, makeOrder("order-1", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	order, err := repo.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidate := order
			candidate.Status = domain.OrderStatusAwaitingPayment
			if err := repo.Save(ctx, candidate); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one writer to win, got %d", succeeded)
	}
}

func TestOrderRepository_ListByUser(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"order-1", "order-2", "order-3"} {
		order := makeOrder(id, "user-1", base.Add(time.Duration(i)*time.Second))
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := repo.Create(ctx, makeOrder("order-4", "user-2", base)); err != nil {
		t.Fatalf("create order-4: %v", err)
	}

	orders, err := repo.ListByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != "order-3" || orders[1].ID != "order-2" {
		t.Fatalf("expected newest first, got %s, %s", orders[0].ID, orders[1].ID)
	}
}

func TestOrderRepository_ContextCancelled(t *testing.T) {
	repo := NewOrderRepository()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.Create(ctx, makeOrder("order-1", "user-1", time.Now().UTC())); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
