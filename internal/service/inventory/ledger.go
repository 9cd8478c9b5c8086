// Package inventory реализует складской учёт: резервирование, возврат и
// списание остатков под optimistic locking.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mubai-gl/monoshop/internal/domain"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 10 * time.Millisecond
)

// Ledger выполняет складские операции поверх InventoryRepository.
// Конкурентные изменения одной записи разрешаются через compare-and-swap
// по версии с ограниченным числом повторов.
type Ledger struct {
	repo        domain.InventoryRepository
	clock       domain.Clock
	logger      *log.Entry
	maxAttempts int
	retryDelay  time.Duration
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMaxAttempts задаёт число CAS-попыток перед отказом.
func WithMaxAttempts(attempts int) Option {
	return func(l *Ledger) {
		if attempts > 0 {
			l.maxAttempts = attempts
		}
	}
}

// WithRetryDelay задаёт базовую задержку между CAS-попытками.
func WithRetryDelay(delay time.Duration) Option {
	return func(l *Ledger) {
		if delay >= 0 {
			l.retryDelay = delay
		}
	}
}

// NewLedger создаёт складской сервис.
func NewLedger(repo domain.InventoryRepository, clock domain.Clock, options ...Option) *Ledger {
	l := &Ledger{
		repo:        repo,
		clock:       clock,
		logger:      log.WithField("component", "inventory"),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	if l.clock == nil {
		l.clock = domain.SystemClock()
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Reserve резервирует qty единиц одного товара.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int64) error {
	return l.ReserveBatch(ctx, []domain.StockChange{{ProductID: productID, Qty: qty}})
}

// ReserveBatch резервирует товары пакетом по принципу «всё или ничего»:
// весь пакет проверяется на одном снимке записей, и при любой ошибке
// валидации ни одна запись не изменяется.
func (l *Ledger) ReserveBatch(ctx context.Context, changes []domain.StockChange) error {
	for _, change := range changes {
		if change.Qty <= 0 {
			return fmt.Errorf("reserve %s: %w", change.ProductID, domain.ErrLineQtyInvalid)
		}
	}
	return l.applyBatch(ctx, "reserve", changes, func(record *domain.InventoryRecord, qty int64) error {
		if record.AvailableQuantity() < qty {
			return fmt.Errorf("product %s: %w", record.ProductID, domain.ErrInsufficientStock)
		}
		record.ReservedQuantity += qty
		return nil
	})
}

// Release снимает резерв с одного товара.
func (l *Ledger) Release(ctx context.Context, productID string, qty int64) error {
	return l.ReleaseBatch(ctx, []domain.StockChange{{ProductID: productID, Qty: qty}})
}

// ReleaseBatch снимает резерв пакетом. Операция идемпотентна: возврат
// больше текущего резерва опускает его до нуля, но не в минус.
func (l *Ledger) ReleaseBatch(ctx context.Context, changes []domain.StockChange) error {
	return l.applyBatch(ctx, "release", changes, func(record *domain.InventoryRecord, qty int64) error {
		if qty <= 0 {
			return nil
		}
		record.ReservedQuantity -= qty
		if record.ReservedQuantity < 0 {
			record.ReservedQuantity = 0
		}
		return nil
	})
}

// Commit списывает один зарезервированный товар со склада.
func (l *Ledger) Commit(ctx context.Context, productID string, qty int64) error {
	return l.CommitBatch(ctx, []domain.StockChange{{ProductID: productID, Qty: qty}})
}

// CommitBatch превращает резерв в окончательное списание остатка.
func (l *Ledger) CommitBatch(ctx context.Context, changes []domain.StockChange) error {
	return l.applyBatch(ctx, "commit", changes, func(record *domain.InventoryRecord, qty int64) error {
		if qty <= 0 {
			return nil
		}
		if record.ReservedQuantity < qty {
			return fmt.Errorf("product %s: %w", record.ProductID, domain.ErrReservationShortfall)
		}
		record.ReservedQuantity -= qty
		record.QuantityOnHand -= qty
		return nil
	})
}

// Adjust выполняет административную корректировку остатка. Складская запись
// заводится лениво при первой корректировке товара.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int64) (domain.InventoryRecord, error) {
	if productID == "" {
		return domain.InventoryRecord{}, domain.ErrProductNotTracked
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.InventoryRecord{}, err
		}

		record, err := l.repo.Get(ctx, productID)
		if err != nil {
			if !errors.Is(err, domain.ErrProductNotTracked) {
				return domain.InventoryRecord{}, fmt.Errorf("load record: %w", err)
			}
			created, createErr := l.createRecord(ctx, productID)
			if createErr != nil {
				if domain.IsVersionConflict(createErr) {
					// Запись успел завести конкурент; перечитываем.
					continue
				}
				return domain.InventoryRecord{}, createErr
			}
			record = created
		}

		next := record.QuantityOnHand + delta
		if next < 0 || next < record.ReservedQuantity {
			return domain.InventoryRecord{}, fmt.Errorf("product %s: %w", productID, domain.ErrStockWouldGoNegative)
		}

		record.QuantityOnHand = next
		record.UpdatedAt = l.clock.Now()
		if err := l.repo.Save(ctx, record); err != nil {
			if domain.IsVersionConflict(err) {
				l.waitRetry(ctx, attempt)
				continue
			}
			return domain.InventoryRecord{}, fmt.Errorf("save record: %w", err)
		}

		record.Version++
		return record, nil
	}

	return domain.InventoryRecord{}, fmt.Errorf("adjust %s: %d attempts exhausted: %w", productID, l.maxAttempts, domain.ErrVersionConflict)
}

// Snapshot возвращает все складские записи.
func (l *Ledger) Snapshot(ctx context.Context) ([]domain.InventoryRecord, error) {
	return l.repo.List(ctx)
}

func (l *Ledger) createRecord(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	now := l.clock.Now()
	record := domain.InventoryRecord{
		ProductID: productID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.repo.Create(ctx, record); err != nil {
		return domain.InventoryRecord{}, err
	}
	return record, nil
}

// applyBatch выполняет пакетную операцию: снимок всех записей, проверка и
// мутация каждой строки, затем атомарная запись пакета. Конфликт версии
// перечитывает снимок и повторяет, пока не исчерпан лимит попыток.
func (l *Ledger) applyBatch(ctx context.Context, op string, changes []domain.StockChange, mutate func(*domain.InventoryRecord, int64) error) error {
	if len(changes) == 0 {
		return nil
	}

	// Повторяющиеся товары схлопываются, чтобы каждая запись писалась один раз.
	productIDs := make([]string, 0, len(changes))
	seen := make(map[string]struct{}, len(changes))
	for _, change := range changes {
		if _, dup := seen[change.ProductID]; dup {
			continue
		}
		seen[change.ProductID] = struct{}{}
		productIDs = append(productIDs, change.ProductID)
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		snapshot, err := l.repo.GetByProductIDs(ctx, productIDs)
		if err != nil {
			return fmt.Errorf("load records: %w", err)
		}
		byProduct := make(map[string]domain.InventoryRecord, len(snapshot))
		for _, record := range snapshot {
			byProduct[record.ProductID] = record
		}

		for _, change := range changes {
			record, ok := byProduct[change.ProductID]
			if !ok {
				return fmt.Errorf("product %s: %w", change.ProductID, domain.ErrProductNotTracked)
			}
			if err := mutate(&record, change.Qty); err != nil {
				return err
			}
			record.UpdatedAt = l.clock.Now()
			byProduct[change.ProductID] = record
		}

		updated := make([]domain.InventoryRecord, 0, len(productIDs))
		for _, productID := range productIDs {
			updated = append(updated, byProduct[productID])
		}

		if err := l.repo.SaveBatch(ctx, updated); err != nil {
			if domain.IsVersionConflict(err) {
				l.logger.WithFields(log.Fields{
					"op":      op,
					"attempt": attempt,
				}).Warn("inventory version conflict, retrying")
				l.waitRetry(ctx, attempt)
				continue
			}
			return fmt.Errorf("save records: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%s stock: %d attempts exhausted: %w", op, l.maxAttempts, domain.ErrVersionConflict)
}

// waitRetry спит экспоненциально растущую задержку, прерываясь по ctx.
func (l *Ledger) waitRetry(ctx context.Context, attempt int) {
	if l.retryDelay <= 0 {
		return
	}
	delay := l.retryDelay * time.Duration(1<<uint(attempt-1))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
