// Package payment обрабатывает оплату заказов: принимает попытку платежа,
// вычисляет исход и согласует его со складом и статусом заказа.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mubai-gl/monoshop/internal/domain"
	"github.com/mubai-gl/monoshop/internal/locks"
	"github.com/mubai-gl/monoshop/internal/service/inventory"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 10 * time.Millisecond
)

// Request описывает попытку оплаты заказа. Provider — метка канала, она
// сохраняется в платёжной записи как есть; исход определяется по Method.
type Request struct {
	OrderID     string
	AmountMinor int64
	Provider    string
	Method      string
}

// Validate проверяет обязательные поля запроса.
func (r Request) Validate() error {
	if r.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if r.Provider == "" {
		return domain.ErrPaymentProviderRequired
	}
	if r.Method == "" {
		return domain.ErrPaymentMethodRequired
	}
	if r.AmountMinor < 0 {
		return domain.ErrPaymentAmountNegative
	}
	return nil
}

// Processor выполняет оплату и расчёт по заказу. Попытки оплаты одного заказа
// сериализуются через мьютекс по идентификатору заказа, поэтому на заказ
// одновременно выполняется не более одной попытки.
type Processor struct {
	payments    domain.PaymentRepository
	orders      domain.OrderRepository
	stock       *inventory.Ledger
	clock       domain.Clock
	logger      *log.Entry
	orderLocks  *locks.Keyed
	maxAttempts int
	retryDelay  time.Duration
}

// Option настраивает Processor.
type Option func(*Processor)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMaxAttempts задаёт число повторов записи статуса заказа при конфликте версий.
func WithMaxAttempts(attempts int) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
	}
}

// WithRetryDelay задаёт базовую задержку между повторами записи.
func WithRetryDelay(delay time.Duration) Option {
	return func(p *Processor) {
		if delay >= 0 {
			p.retryDelay = delay
		}
	}
}

// NewProcessor создаёт платёжный сервис.
func NewProcessor(
	payments domain.PaymentRepository,
	orders domain.OrderRepository,
	stock *inventory.Ledger,
	clock domain.Clock,
	options ...Option,
) *Processor {
	p := &Processor{
		payments:    payments,
		orders:      orders,
		stock:       stock,
		clock:       clock,
		logger:      log.WithField("component", "payment"),
		orderLocks:  locks.NewKeyed(),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	if p.clock == nil {
		p.clock = domain.SystemClock()
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Process выполняет одну попытку оплаты заказа.
//
// Для заказа в статусе paid попытка завершается без изменений возвратом уже
// сохранённого платежа. Для заказа в статусе payment_failed попытка разрешена
// повторно и перезаписывает прошлый исход; перед расчётом резерв берётся
// заново, так как при прошлой неудаче он был возвращён на склад.
//
// Отклонение платежа шлюзом не является ошибкой вызова: метод возвращает
// платёж со статусом failed и nil-ошибкой.
func (p *Processor) Process(ctx context.Context, req Request) (domain.Payment, error) {
	if err := req.Validate(); err != nil {
		return domain.Payment{}, fmt.Errorf("validate payment request: %w", err)
	}

	p.orderLocks.Lock(req.OrderID)
	defer p.orderLocks.Unlock(req.OrderID)

	order, err := p.orders.Get(ctx, req.OrderID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("load order %s: %w", req.OrderID, err)
	}

	if order.Status == domain.OrderStatusPaid {
		existing, err := p.payments.GetByOrder(ctx, order.ID)
		if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
			return domain.Payment{}, fmt.Errorf("load settled payment for order %s: %w", order.ID, err)
		}
		p.logger.WithField("order_id", order.ID).Info("order already paid, payment attempt ignored")
		return existing, nil
	}

	retry := order.Status == domain.OrderStatusPaymentFailed
	if order.Status != domain.OrderStatusAwaitingPayment && !retry {
		return domain.Payment{}, fmt.Errorf("order %s in status %s: %w",
			order.ID, order.Status, domain.ErrOrderTransitionInvalid)
	}

	payment, err := p.loadOrCreatePayment(ctx, order, req)
	if err != nil {
		return domain.Payment{}, err
	}

	changes := domain.StockChangesFromLines(order.Lines)
	if retry {
		// Прошлая неудача вернула резерв, для повторного расчёта он нужен снова.
		if err := p.stock.ReserveBatch(ctx, changes); err != nil {
			return payment, fmt.Errorf("re-reserve stock for order %s: %w", order.ID, err)
		}
	}

	outcome := DecideOutcome(order.TotalMinor, req.AmountMinor, req.Method)
	if outcome.Approved {
		return p.settle(ctx, order, payment, changes)
	}
	return p.reject(ctx, order, payment, changes, outcome.FailureReason)
}

// GetByOrder возвращает платёжную запись заказа.
func (p *Processor) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if orderID == "" {
		return domain.Payment{}, domain.ErrOrderIDRequired
	}
	return p.payments.GetByOrder(ctx, orderID)
}

// loadOrCreatePayment возвращает платёжную запись заказа, обновлённую под
// текущую попытку, создавая её при первой оплате.
func (p *Processor) loadOrCreatePayment(ctx context.Context, order domain.Order, req Request) (domain.Payment, error) {
	now := p.clock.Now()

	payment, err := p.payments.GetByOrder(ctx, order.ID)
	switch {
	case err == nil:
		payment.AmountMinor = req.AmountMinor
		payment.Provider = req.Provider
		payment.Method = req.Method
		payment.Status = domain.PaymentStatusPending
		payment.UpdatedAt = now
		return payment, nil
	case errors.Is(err, domain.ErrPaymentNotFound):
		payment = domain.Payment{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			AmountMinor: req.AmountMinor,
			Currency:    order.Currency,
			Status:      domain.PaymentStatusPending,
			Provider:    req.Provider,
			Method:      req.Method,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := p.payments.Create(ctx, payment); err != nil {
			return domain.Payment{}, fmt.Errorf("create payment for order %s: %w", order.ID, err)
		}
		return payment, nil
	default:
		return domain.Payment{}, fmt.Errorf("load payment for order %s: %w", order.ID, err)
	}
}

// settle списывает резерв со склада и переводит заказ в paid.
func (p *Processor) settle(
	ctx context.Context,
	order domain.Order,
	payment domain.Payment,
	changes []domain.StockChange,
) (domain.Payment, error) {
	if err := p.stock.CommitBatch(ctx, changes); err != nil {
		return payment, fmt.Errorf("commit stock for order %s: %w", order.ID, err)
	}

	payment.MarkSucceeded(newProviderReference(), p.clock.Now())
	if err := p.savePayment(ctx, &payment); err != nil {
		return payment, err
	}

	if _, err := p.transitionOrder(ctx, order, domain.OrderStatusPaid); err != nil {
		return payment, err
	}

	p.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"payment_id":   payment.ID,
		"amount_minor": payment.AmountMinor,
	}).Info("payment settled")
	return payment, nil
}

// reject возвращает резерв на склад и переводит заказ в payment_failed.
func (p *Processor) reject(
	ctx context.Context,
	order domain.Order,
	payment domain.Payment,
	changes []domain.StockChange,
	reason string,
) (domain.Payment, error) {
	if err := p.stock.ReleaseBatch(ctx, changes); err != nil {
		return payment, fmt.Errorf("release stock for order %s: %w", order.ID, err)
	}

	payment.MarkFailed(reason, p.clock.Now())
	if err := p.savePayment(ctx, &payment); err != nil {
		return payment, err
	}

	if _, err := p.transitionOrder(ctx, order, domain.OrderStatusPaymentFailed); err != nil {
		return payment, err
	}

	p.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"payment_id": payment.ID,
		"reason":     reason,
	}).Warn("payment rejected")
	return payment, nil
}

// savePayment записывает платёж. Попытки оплаты одного заказа сериализованы
// мьютексом, поэтому конфликт версий здесь означает запись в обход сервиса.
func (p *Processor) savePayment(ctx context.Context, payment *domain.Payment) error {
	if err := p.payments.Save(ctx, *payment); err != nil {
		return fmt.Errorf("save payment %s: %w", payment.ID, err)
	}
	payment.Version++
	return nil
}

// transitionOrder переводит заказ в следующий статус с ограниченным числом
// повторов при конфликте версий: при каждом конфликте заказ перечитывается.
func (p *Processor) transitionOrder(ctx context.Context, order domain.Order, next domain.OrderStatus) (domain.Order, error) {
	for attempt := 1; ; attempt++ {
		if !order.CanTransition(next) {
			return order, fmt.Errorf("order %s: %s -> %s: %w",
				order.ID, order.Status, next, domain.ErrOrderTransitionInvalid)
		}

		order.Status = next
		order.UpdatedAt = p.clock.Now()

		err := p.orders.Save(ctx, order)
		if err == nil {
			order.Version++
			return order, nil
		}
		if !domain.IsVersionConflict(err) || attempt >= p.maxAttempts {
			return order, fmt.Errorf("transition order %s to %s: %w", order.ID, next, err)
		}

		p.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt,
		}).Warn("order version conflict, retrying transition")

		reloaded, err := p.orders.Get(ctx, order.ID)
		if err != nil {
			return order, fmt.Errorf("reload order %s: %w", order.ID, err)
		}
		order = reloaded

		p.waitRetry(ctx, attempt)
	}
}

// waitRetry ждёт экспоненциальную паузу перед следующей попыткой записи.
func (p *Processor) waitRetry(ctx context.Context, attempt int) {
	if p.retryDelay <= 0 {
		return
	}
	delay := p.retryDelay * time.Duration(1<<(attempt-1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
