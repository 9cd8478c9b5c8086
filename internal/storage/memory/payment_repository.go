package memory

import (
	"context"
	"sync"

	"github.com/mubai-gl/monoshop/internal/domain"
)

// paymentRepositoryInMemory хранит платёжные записи с ключом по заказу:
// на заказ допускается не более одной записи.
type paymentRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string]domain.Payment
}

// NewPaymentRepository возвращает in-memory реализацию PaymentRepository.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		byOrder: make(map[string]domain.Payment),
	}
}

// Create сохраняет первую платёжную запись заказа.
func (r *paymentRepositoryInMemory) Create(ctx context.Context, payment domain.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOrder[payment.OrderID]; exists {
		return domain.ErrVersionConflict
	}
	r.byOrder[payment.OrderID] = payment
	return nil
}

// GetByOrder возвращает платёж заказа или ErrPaymentNotFound.
func (r *paymentRepositoryInMemory) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Payment{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

// Save перезаписывает платёж, проверяя версию.
func (r *paymentRepositoryInMemory) Save(ctx context.Context, payment domain.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byOrder[payment.OrderID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.Version != payment.Version {
		return domain.ErrVersionConflict
	}
	payment.Version++
	r.byOrder[payment.OrderID] = payment
	return nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
