package memory

import (
	"testing"
	"time"

	"github.com/mubai-gl/monoshop/internal/domain"
)

func TestTimelineRepository_AppendAndList(t *testing.T) {
	repo := NewTimelineRepository()
	base := time.Now().UTC().Add(-time.Minute)

	// Второе событие старше первого, List должен пересортировать.
	if err := repo.Append(domain.TimelineEvent{
		OrderID:  "order-1",
		Type:     "OrderPaid",
		Occurred: base.Add(10 * time.Second),
	}); err != nil {
		t.Fatalf("append paid: %v", err)
	}
	if err := repo.Append(domain.TimelineEvent{
		OrderID:  "order-1",
		Type:     "OrderPlaced",
		Occurred: base,
	}); err != nil {
		t.Fatalf("append placed: %v", err)
	}

	events, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2 events, got %d", len(events))
	}
	if events[0].Type != "OrderPlaced" || events[1].Type != "OrderPaid" {
		t.Fatalf("history must be chronological: %+v", events)
	}
}

func TestTimelineRepository_ZeroOccurredGetsStamped(t *testing.T) {
	repo := NewTimelineRepository()

	if err := repo.Append(domain.TimelineEvent{OrderID: "order-1", Type: "OrderPlaced"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].Occurred.IsZero() {
		t.Fatalf("event must get a timestamp on append: %+v", events)
	}
}

func TestTimelineRepository_ListIsolation(t *testing.T) {
	repo := NewTimelineRepository()

	if err := repo.Append(domain.TimelineEvent{OrderID: "order-1", Type: "OrderPlaced"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	events[0].Type = "mutated"

	fresh, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list again: %v", err)
	}
	if fresh[0].Type != "OrderPlaced" {
		t.Fatal("List must return a copy, not the internal slice")
	}

	if empty, err := repo.List("order-unknown"); err != nil || len(empty) != 0 {
		t.Fatalf("unknown order: want empty history, got %v (%v)", empty, err)
	}
}
