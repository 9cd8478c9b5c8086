package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mubai-gl/monoshop/internal/domain"
)

// inventoryRepositoryInMemory хранит складские записи под RWMutex
// и эмулирует optimistic locking проверкой версии при записи.
type inventoryRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.InventoryRecord
}

// NewInventoryRepository возвращает in-memory реализацию InventoryRepository.
func NewInventoryRepository() domain.InventoryRepository {
	return &inventoryRepositoryInMemory{
		items: make(map[string]domain.InventoryRecord),
	}
}

// Get возвращает запись по товару или ErrProductNotTracked.
func (r *inventoryRepositoryInMemory) Get(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.InventoryRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[productID]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrProductNotTracked
	}
	return record, nil
}

// GetByProductIDs возвращает записи по набору товаров под одной блокировкой чтения,
// то есть одним согласованным снимком.
func (r *inventoryRepositoryInMemory) GetByProductIDs(ctx context.Context, productIDs []string) ([]domain.InventoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.InventoryRecord, 0, len(productIDs))
	for _, id := range productIDs {
		if record, ok := r.items[id]; ok {
			result = append(result, record)
		}
	}
	return result, nil
}

// List возвращает все складские записи, отсортированные по товару.
func (r *inventoryRepositoryInMemory) List(ctx context.Context) ([]domain.InventoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.InventoryRecord, 0, len(r.items))
	for _, record := range r.items {
		result = append(result, record)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ProductID < result[j].ProductID
	})

	return result, nil
}

// Create заводит новую запись, если товар ещё не отслеживается.
func (r *inventoryRepositoryInMemory) Create(ctx context.Context, record domain.InventoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[record.ProductID]; exists {
		return domain.ErrVersionConflict
	}
	r.items[record.ProductID] = record
	return nil
}

// Save перезаписывает запись, проверяя версию.
func (r *inventoryRepositoryInMemory) Save(ctx context.Context, record domain.InventoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saveLocked(record)
}

// SaveBatch применяет пакет записей атомарно: сперва проверяются версии
// всех записей, и только потом — запись. Любой конфликт откатывает весь пакет.
func (r *inventoryRepositoryInMemory) SaveBatch(ctx context.Context, records []domain.InventoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, record := range records {
		current, ok := r.items[record.ProductID]
		if !ok {
			return domain.ErrProductNotTracked
		}
		if current.Version != record.Version {
			return domain.ErrVersionConflict
		}
	}

	for _, record := range records {
		if err := r.saveLocked(record); err != nil {
			// Недостижимо после предварительной проверки; оставлено как guard.
			return err
		}
	}
	return nil
}

func (r *inventoryRepositoryInMemory) saveLocked(record domain.InventoryRecord) error {
	current, ok := r.items[record.ProductID]
	if !ok {
		return domain.ErrProductNotTracked
	}
	if current.Version != record.Version {
		return domain.ErrVersionConflict
	}
	record.Version++
	r.items[record.ProductID] = record
	return nil
}

var _ domain.InventoryRepository = (*inventoryRepositoryInMemory)(nil)
