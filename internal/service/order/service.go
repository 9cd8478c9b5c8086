// Package order реализует оформление заказа: создание, резервирование
// склада, оплату и компенсации при отказах.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mubai-gl/monoshop/internal/domain"
	"github.com/mubai-gl/monoshop/internal/messaging/kafka"
	"github.com/mubai-gl/monoshop/internal/metrics"
	"github.com/mubai-gl/monoshop/internal/service/inventory"
	"github.com/mubai-gl/monoshop/internal/service/payment"
)

const (
	defaultCurrency    = "CNY"
	defaultMaxAttempts = 3
	defaultRetryDelay  = 10 * time.Millisecond
)

// LineInput описывает позицию нового заказа. Цена не принимается от клиента,
// она фиксируется из каталога в момент оформления.
type LineInput struct {
	ProductID string
	Quantity  int32
}

// PaymentIntent описывает намерение оплаты, подаваемое вместе с заказом.
// Provider — метка канала, Method определяет решение шлюза.
type PaymentIntent struct {
	AmountMinor int64
	Provider    string
	Method      string
}

// PlaceOrderRequest описывает запрос на оформление заказа.
type PlaceOrderRequest struct {
	UserID   string
	Currency string
	Notes    string
	Lines    []LineInput
	Payment  *PaymentIntent
}

// LineView — позиция заказа с карточкой товара из каталога.
type LineView struct {
	ProductID      string
	Name           string
	Quantity       int32
	UnitPriceMinor int64
	TotalMinor     int64
}

// OrderView — снимок заказа для выдачи наружу.
type OrderView struct {
	Order   domain.Order
	Lines   []LineView
	Payment *domain.Payment
}

// Service выполняет последовательность оформления заказа:
// создание → резервирование склада → оплата, с компенсацией на каждом шаге.
type Service struct {
	orders      domain.OrderRepository
	products    domain.ProductRepository
	stock       *inventory.Ledger
	payments    *payment.Processor
	idgen       domain.IDGenerator
	clock       domain.Clock
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	producer    *kafka.Producer
	metrics     *metrics.OrderMetrics
	logger      *log.Entry
	maxAttempts int
	retryDelay  time.Duration
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOutbox подключает transactional outbox для событий заказа.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithTimeline подключает журнал событий жизненного цикла заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) {
		s.timeline = timeline
	}
}

// WithKafkaProducer подключает публикацию событий заказа в Kafka.
func WithKafkaProducer(producer *kafka.Producer) Option {
	return func(s *Service) {
		s.producer = producer
	}
}

// WithMetrics подключает метрики оформления.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMaxAttempts задаёт число повторов записи статуса при конфликте версий.
func WithMaxAttempts(attempts int) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithRetryDelay задаёт базовую задержку между повторами записи.
func WithRetryDelay(delay time.Duration) Option {
	return func(s *Service) {
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

// NewService создаёт сервис заказов.
func NewService(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	stock *inventory.Ledger,
	payments *payment.Processor,
	idgen domain.IDGenerator,
	clock domain.Clock,
	options ...Option,
) *Service {
	s := &Service{
		orders:      orders,
		products:    products,
		stock:       stock,
		payments:    payments,
		idgen:       idgen,
		clock:       clock,
		logger:      log.WithField("component", "order"),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	if s.clock == nil {
		s.clock = domain.SystemClock()
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// PlaceOrder оформляет заказ целиком: создаёт запись, резервирует склад и
// проводит оплату. Отказ резервирования или оплаты завершает заказ
// соответствующим статусом, уже принятый заказ из хранилища не исчезает.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderView, error) {
	if err := validatePlaceRequest(req); err != nil {
		return OrderView{}, fmt.Errorf("validate order request: %w", err)
	}

	// Отклонённые запросы не учитываются: счётчики отражают принятые заказы.
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordOrderPlaced()
		defer func() {
			s.metrics.RecordCheckoutFinished()
			s.metrics.RecordPlaceDuration(time.Since(start))
		}()
	}

	catalog, err := s.resolveProducts(ctx, req.Lines)
	if err != nil {
		return OrderView{}, err
	}

	order, err := s.buildOrder(req, catalog)
	if err != nil {
		return OrderView{}, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return OrderView{}, fmt.Errorf("create order: %w", err)
	}

	s.emitEvent(&order, "OrderPlaced", map[string]interface{}{
		"user_id":     order.UserID,
		"total_minor": order.TotalMinor,
		"ts":          order.CreatedAt.Format(time.RFC3339Nano),
	})
	s.publishOrderEvent(kafka.EventTypeOrderPlaced, &order, map[string]interface{}{
		"total_minor": order.TotalMinor,
	})

	reserveStart := time.Now()
	changes := domain.StockChangesFromLines(order.Lines)
	if reserveErr := s.stock.ReserveBatch(ctx, changes); reserveErr != nil {
		s.logger.WithError(reserveErr).WithField("order_id", order.ID).Warn("stock reservation failed")
		if s.metrics != nil {
			s.metrics.RecordInventoryFailed()
		}
		if _, err := s.transitionStatus(ctx, &order, domain.OrderStatusInventoryFailed, reserveErr.Error()); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist inventory failure")
		}
		s.publishOrderEvent(kafka.EventTypeOrderInventoryFailed, &order, map[string]interface{}{
			"reason": reserveErr.Error(),
		})
		return s.view(order, catalog, nil), fmt.Errorf("reserve stock for order %s: %w", order.ID, reserveErr)
	}
	if s.metrics != nil {
		s.metrics.RecordStepDuration("reserve", time.Since(reserveStart))
	}

	if _, err := s.transitionStatus(ctx, &order, domain.OrderStatusAwaitingPayment, ""); err != nil {
		return s.view(order, catalog, nil), err
	}
	s.publishOrderEvent(kafka.EventTypeOrderAwaitingPayment, &order, nil)

	paymentStart := time.Now()
	pay, err := s.payments.Process(ctx, payment.Request{
		OrderID:     order.ID,
		AmountMinor: req.Payment.AmountMinor,
		Provider:    req.Payment.Provider,
		Method:      req.Payment.Method,
	})
	if err != nil {
		s.reload(ctx, &order)
		return s.view(order, catalog, nil), fmt.Errorf("process payment for order %s: %w", order.ID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordStepDuration("payment", time.Since(paymentStart))
	}

	s.reload(ctx, &order)
	s.recordOutcome(&order, &pay)

	return s.view(order, catalog, &pay), nil
}

// Pay выполняет попытку оплаты уже оформленного заказа. Используется для
// повторной оплаты после отказа.
func (s *Service) Pay(ctx context.Context, orderID string, amountMinor int64, provider, method string) (domain.Payment, error) {
	prev, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	alreadyPaid := prev.Status == domain.OrderStatusPaid

	pay, err := s.payments.Process(ctx, payment.Request{
		OrderID:     orderID,
		AmountMinor: amountMinor,
		Provider:    provider,
		Method:      method,
	})
	if err != nil {
		return pay, err
	}

	// Для заказа, который уже был оплачен, события не дублируются.
	if !alreadyPaid {
		order := prev
		s.reload(ctx, &order)
		s.recordOutcome(&order, &pay)
	}
	return pay, nil
}

// GetOrder возвращает снимок заказа с карточками товаров и платежом.
func (s *Service) GetOrder(ctx context.Context, orderID string) (OrderView, error) {
	if orderID == "" {
		return OrderView{}, domain.ErrOrderIDRequired
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}

	catalog, err := s.resolveKnownProducts(ctx, order.Lines)
	if err != nil {
		return OrderView{}, err
	}

	var pay *domain.Payment
	if loaded, err := s.payments.GetByOrder(ctx, order.ID); err == nil {
		pay = &loaded
	} else if !domain.IsNotFound(err) {
		return OrderView{}, fmt.Errorf("load payment for order %s: %w", order.ID, err)
	}

	return s.view(order, catalog, pay), nil
}

// ListByUser возвращает заказы пользователя, новые первыми.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	return s.orders.ListByUser(ctx, userID, limit)
}

// Cancel отменяет заказ до оплаты и возвращает резерв на склад.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}

	if !order.CanTransition(domain.OrderStatusCancelled) {
		return order, fmt.Errorf("cancel order %s in status %s: %w",
			order.ID, order.Status, domain.ErrOrderTransitionInvalid)
	}

	if err := s.stock.ReleaseBatch(ctx, domain.StockChangesFromLines(order.Lines)); err != nil {
		return order, fmt.Errorf("release stock for order %s: %w", order.ID, err)
	}

	if _, err := s.transitionStatus(ctx, &order, domain.OrderStatusCancelled, reason); err != nil {
		return order, err
	}
	if s.metrics != nil {
		s.metrics.RecordOrderCancelled()
	}

	payload := map[string]interface{}{
		"reason": reason,
		"ts":     s.clock.Now().Format(time.RFC3339Nano),
	}
	if reason == "" {
		delete(payload, "reason")
	}
	s.emitEvent(&order, "OrderCancelled", payload)
	s.publishOrderEvent(kafka.EventTypeOrderCancelled, &order, map[string]interface{}{
		"reason": reason,
	})

	return order, nil
}

// Timeline возвращает журнал событий заказа.
func (s *Service) Timeline(orderID string) ([]domain.TimelineEvent, error) {
	if orderID == "" {
		return nil, domain.ErrOrderIDRequired
	}
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(orderID)
}

func validatePlaceRequest(req PlaceOrderRequest) error {
	if req.UserID == "" {
		return domain.ErrUserRequired
	}
	if len(req.Lines) == 0 {
		return domain.ErrLinesRequired
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("product %s: %w", line.ProductID, domain.ErrLineQtyInvalid)
		}
	}
	if req.Payment == nil {
		return domain.ErrPaymentIntentRequired
	}
	return nil
}

// resolveProducts загружает карточки всех товаров заказа. Отсутствие любого
// товара в каталоге отклоняет заказ целиком до создания записи.
func (s *Service) resolveProducts(ctx context.Context, lines []LineInput) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	found, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	catalog := make(map[string]domain.Product, len(found))
	for _, product := range found {
		catalog[product.ID] = product
	}
	for _, line := range lines {
		if _, ok := catalog[line.ProductID]; !ok {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, domain.ErrProductNotFound)
		}
	}
	return catalog, nil
}

// resolveKnownProducts загружает карточки для чтения заказа. Товар, уже
// удалённый из каталога, не прячет заказ: его имя остаётся пустым.
func (s *Service) resolveKnownProducts(ctx context.Context, lines []domain.OrderLine) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	found, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	catalog := make(map[string]domain.Product, len(found))
	for _, product := range found {
		catalog[product.ID] = product
	}
	return catalog, nil
}

func (s *Service) buildOrder(req PlaceOrderRequest, catalog map[string]domain.Product) (domain.Order, error) {
	id, err := s.idgen.NewOrderID()
	if err != nil {
		return domain.Order{}, fmt.Errorf("new order id: %w", err)
	}

	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	now := s.clock.Now()
	order := domain.Order{
		ID:        id,
		UserID:    req.UserID,
		Status:    domain.OrderStatusPendingPayment,
		Currency:  currency,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, line := range req.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceMinor: catalog[line.ProductID].PriceMinor,
		})
	}
	order.TotalMinor = order.LinesTotalMinor()
	return order, nil
}

// recordOutcome фиксирует события и метрики по исходу оплаты.
func (s *Service) recordOutcome(order *domain.Order, pay *domain.Payment) {
	switch pay.Status {
	case domain.PaymentStatusSucceeded:
		if s.metrics != nil {
			s.metrics.RecordOrderPaid()
		}
		s.emitEvent(order, "OrderPaid", map[string]interface{}{
			"amount_minor":       pay.AmountMinor,
			"provider_reference": pay.ProviderReference,
			"ts":                 pay.UpdatedAt.Format(time.RFC3339Nano),
		})
		s.publishOrderEvent(kafka.EventTypeOrderPaid, order, map[string]interface{}{
			"amount_minor": pay.AmountMinor,
		})
	case domain.PaymentStatusFailed:
		if s.metrics != nil {
			s.metrics.RecordPaymentFailed()
		}
		s.emitEvent(order, "OrderPaymentFailed", map[string]interface{}{
			"reason": pay.FailureReason,
			"ts":     pay.UpdatedAt.Format(time.RFC3339Nano),
		})
		s.publishOrderEvent(kafka.EventTypeOrderPaymentFailed, order, map[string]interface{}{
			"reason": pay.FailureReason,
		})
	}
}

// transitionStatus переводит заказ в следующий статус с ограниченным числом
// повторов при конфликте версий и пишет событие смены статуса.
func (s *Service) transitionStatus(ctx context.Context, order *domain.Order, next domain.OrderStatus, reason string) (domain.Order, error) {
	for attempt := 1; ; attempt++ {
		if !order.CanTransition(next) {
			return *order, fmt.Errorf("order %s: %s -> %s: %w",
				order.ID, order.Status, next, domain.ErrOrderTransitionInvalid)
		}

		order.Status = next
		order.UpdatedAt = s.clock.Now()

		err := s.orders.Save(ctx, *order)
		if err == nil {
			order.Version++
			s.emitStatusEvent(order, reason)
			return *order, nil
		}
		if !domain.IsVersionConflict(err) || attempt >= s.maxAttempts {
			return *order, fmt.Errorf("transition order %s to %s: %w", order.ID, next, err)
		}

		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt,
		}).Warn("order version conflict, retrying transition")

		fresh, loadErr := s.orders.Get(ctx, order.ID)
		if loadErr != nil {
			return *order, fmt.Errorf("reload order %s: %w", order.ID, loadErr)
		}
		*order = fresh

		s.waitRetry(ctx, attempt)
	}
}

// waitRetry ждёт экспоненциальную паузу перед следующей попыткой записи.
func (s *Service) waitRetry(ctx context.Context, attempt int) {
	if s.retryDelay <= 0 {
		return
	}
	delay := s.retryDelay * time.Duration(1<<(attempt-1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// reload перечитывает заказ после внешнего изменения, не прерывая поток при ошибке.
func (s *Service) reload(ctx context.Context, order *domain.Order) {
	fresh, err := s.orders.Get(ctx, order.ID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("reload order failed")
		return
	}
	*order = fresh
}

func (s *Service) emitStatusEvent(order *domain.Order, reason string) {
	payload := map[string]interface{}{
		"status":     order.Status,
		"updated_at": order.UpdatedAt.Format(time.RFC3339Nano),
		"ts":         order.UpdatedAt.Format(time.RFC3339Nano),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	s.emitEvent(order, "OrderStatusChanged", payload)
}

func (s *Service) emitEvent(order *domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	if s.outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := s.outbox.Enqueue(msg); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if s.metrics != nil {
			s.metrics.RecordOutboxEvent()
		}
	}

	if s.timeline != nil {
		var reason string
		if r, ok := payload["reason"].(string); ok {
			reason = r
		}
		occurred := s.clock.Now()
		if ts, ok := payload["ts"].(string); ok {
			if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
				occurred = parsed
			}
		}
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := s.timeline.Append(event); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if s.metrics != nil {
			s.metrics.RecordTimelineEvent()
		}
	}
}

// publishOrderEvent публикует событие заказа в Kafka, если producer настроен.
func (s *Service) publishOrderEvent(eventType kafka.EventType, order *domain.Order, metadata map[string]interface{}) {
	if s.producer == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.UserID, string(order.Status), metadata)
	if err := s.producer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
		// Kafka опциональна, оформление заказа из-за неё не прерывается.
		s.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   order.ID,
		}).Warn("failed to publish order event to kafka")
	}
}

func (s *Service) view(order domain.Order, catalog map[string]domain.Product, pay *domain.Payment) OrderView {
	view := OrderView{Order: order, Payment: pay}
	for _, line := range order.Lines {
		view.Lines = append(view.Lines, LineView{
			ProductID:      line.ProductID,
			Name:           catalog[line.ProductID].Name,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
			TotalMinor:     line.TotalMinor(),
		})
	}
	return view
}
