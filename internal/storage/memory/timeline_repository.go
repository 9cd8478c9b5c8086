package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/mubai-gl/monoshop/internal/domain"
)

// timelineRepositoryInMemory держит историю заказов в памяти.
// Используется в разработке и в тестах вместо PostgreSQL.
type timelineRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{events: make(map[string][]domain.TimelineEvent)}
}

func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	event = event.Normalize(time.Now())

	r.mu.Lock()
	defer r.mu.Unlock()

	history := append(r.events[event.OrderID], event)
	// Стабильная сортировка сохраняет порядок добавления событий
	// с одинаковой меткой времени.
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Occurred.Before(history[j].Occurred)
	})
	r.events[event.OrderID] = history

	return nil
}

// List возвращает копию истории заказа в хронологическом порядке.
func (r *timelineRepositoryInMemory) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[orderID]
	out := make([]domain.TimelineEvent, len(events))
	copy(out, events)
	return out, nil
}
