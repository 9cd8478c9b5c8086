package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mubai-gl/monoshop/internal/domain"
	"github.com/mubai-gl/monoshop/internal/service/inventory"
	"github.com/mubai-gl/monoshop/internal/storage/memory"
)

type fixture struct {
	processor *Processor
	orders    domain.OrderRepository
	payments  domain.PaymentRepository
	stock     domain.InventoryRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	orders := memory.NewOrderRepository()
	payments := memory.NewPaymentRepository()
	stock := memory.NewInventoryRepository()
	ledger := inventory.NewLedger(stock, nil, inventory.WithRetryDelay(time.Millisecond))

	return &fixture{
		processor: NewProcessor(payments, orders, ledger, nil, WithRetryDelay(time.Millisecond)),
		orders:    orders,
		payments:  payments,
		stock:     stock,
	}
}

// seedAwaitingOrder создаёт заказ в ожидании оплаты с уже взятым резервом,
// как его оставляет шаг оформления.
func (f *fixture) seedAwaitingOrder(t *testing.T, orderID string, qty int32, unitPrice int64) domain.Order {
	t.Helper()
	ctx := context.Background()

	order := domain.Order{
		ID:       orderID,
		UserID:   "user-1",
		Status:   domain.OrderStatusAwaitingPayment,
		Currency: "CNY",
		Lines: []domain.OrderLine{
			{ProductID: "product-1", Quantity: qty, UnitPriceMinor: unitPrice},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	order.TotalMinor = order.LinesTotalMinor()
	if err := f.orders.Create(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	if err := f.stock.Create(ctx, domain.InventoryRecord{
		ProductID:        "product-1",
		QuantityOnHand:   10,
		ReservedQuantity: int64(qty),
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return order
}

func (f *fixture) orderStatus(t *testing.T, orderID string) domain.OrderStatus {
	t.Helper()
	order, err := f.orders.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return order.Status
}

func (f *fixture) stockRecord(t *testing.T, productID string) domain.InventoryRecord {
	t.Helper()
	rec, err := f.stock.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return rec
}

func TestProcessorProcess_Success(t *testing.T) {
	f := newFixture(t)
	f.seedAwaitingOrder(t, "order-1", 2, 500)

	payment, err := f.processor.Process(context.Background(), Request{
		OrderID:     "order-1",
		AmountMinor: 1000,
		Provider:    "card",
		Method:      "card",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", payment.Status)
	}
	if !strings.HasPrefix(payment.ProviderReference, "PAY-") {
		t.Fatalf("unexpected provider reference %q", payment.ProviderReference)
	}
	if payment.FailureReason != "" {
		t.Fatalf("succeeded payment must not carry failure reason, got %q", payment.FailureReason)
	}
	if got := f.orderStatus(t, "order-1"); got != domain.OrderStatusPaid {
		t.Fatalf("expected order paid, got %s", got)
	}

	rec := f.stockRecord(t, "product-1")
	if rec.QuantityOnHand != 8 || rec.ReservedQuantity != 0 {
		t.Fatalf("settlement must deduct reserve, got %+v", rec)
	}
}

func TestProcessorProcess_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.seedAwaitingOrder(t, "order-1", 2, 500)

	payment, err := f.processor.Process(context.Background(), Request{
		OrderID:     "order-1",
		AmountMinor: 999,
		Provider:    "card",
		Method:      "card",
	})
	// Отказ шлюза — зафиксированный исход, а не ошибка вызова.
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", payment.Status)
	}
	if payment.FailureReason != "amount mismatch" {
		t.Fatalf("unexpected reason %q", payment.FailureReason)
	}
	if got := f.orderStatus(t, "order-1"); got != domain.OrderStatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", got)
	}

	rec := f.stockRecord(t, "product-1")
	if rec.QuantityOnHand != 10 || rec.ReservedQuantity != 0 {
		t.Fatalf("rejection must release reserve, got %+v", rec)
	}
}

func TestProcessorProcess_SimulatedFailure(t *testing.T) {
	f := newFixture(t)
	f.seedAwaitingOrder(t, "order-1", 1, 700)

	payment, err := f.processor.Process(context.Background(), Request{
		OrderID:     "order-1",
		AmountMinor: 700,
		Provider:    "card",
		Method:      "Simulate-Failure",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if payment.Status != domain.PaymentStatusFailed || payment.FailureReason != "simulated failure" {
		t.Fatalf("unexpected outcome %+v", payment)
	}
}

func TestProcessorProcess_FailingProviderLabelStillSettles(t *testing.T) {
	f := newFixture(t)
	f.seedAwaitingOrder(t, "order-1", 1, 700)

	// Метка канала не участвует в решении шлюза, даже совпадая с
	// отклоняемым способом оплаты.
	payment, err := f.processor.Process(context.Background(), Request{
		OrderID:     "order-1",
		AmountMinor: 700,
		Provider:    "simulate-failure",
		Method:      "card",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded, got %+v", payment)
	}
	if payment.Provider != "simulate-failure" {
		t.Fatalf("provider label must be stored as given, got %q", payment.Provider)
	}
	if got := f.orderStatus(t, "order-1"); got != domain.OrderStatusPaid {
		t.Fatalf("expected order paid, got %s", got)
	}
}

func TestProcessorProcess_PaidOrderIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seedAwaitingOrder(t, "order-1", 2, 500)
	ctx := context.Background()

	first, err := f.processor.Process(ctx, Request{OrderID: "order-1", AmountMinor: 1000, Provider: "card", Method: "card"})
	if err != nil {
		t.Fatalf("first process: %v", err)
	}

	second, err := f.processor.Process(ctx, Request{OrderID: "order-1", AmountMinor: 1000, Provider: "card", Method: "card"})
	if err != nil {
		t.Fatalf("second process: %v", err)
	}

	if second.ProviderReference != first.ProviderReference {
		t.Fatalf("repeat attempt must return the settled payment unchanged")
	}
	rec := f.stockRecord(t, "product-1")
	if rec.QuantityOnHand != 8 {
		t.Fatalf("repeat attempt must not touch stock, got %+v", rec)
	}
}

func TestProcessorProcess_PaidOrderWithoutRecordIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Заказ оплачен в обход сервиса, платёжной записи нет. Повторная
	// попытка не должна ничего менять и не является ошибкой.
	order := f.seedAwaitingOrder(t, "order-1", 1, 500)
	order.Status = domain.OrderStatusPaid
	if err := f.orders.Save(ctx, order); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	payment, err := f.processor.Process(ctx, Request{OrderID: "order-1", AmountMinor: 500, Provider: "card", Method: "card"})
	if err != nil {
		t.Fatalf("process paid order: %v", err)
	}
	if payment.ID != "" || payment.Status != "" {
		t.Fatalf("expected empty payment for paid order without record, got %+v", payment)
	}
	rec := f.stockRecord(t, "product-1")
	if rec.QuantityOnHand != 10 || rec.ReservedQuantity != 1 {
		t.Fatalf("stock must stay untouched, got %+v", rec)
	}
}

func TestProcessorProcess_RetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.seedAwaitingOrder(t, "order-1", 2, 500)
	ctx := context.Background()

	failed, err := f.processor.Process(ctx, Request{OrderID: "order-1", AmountMinor: 1, Provider: "card", Method: "card"})
	if err != nil {
		t.Fatalf("failing process: %v", err)
	}
	if failed.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}

	retried, err := f.processor.Process(ctx, Request{OrderID: "order-1", AmountMinor: 1000, Provider: "card", Method: "card"})
	if err != nil {
		t.Fatalf("retry process: %v", err)
	}

	if retried.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected retry to succeed, got %+v", retried)
	}
	if retried.FailureReason != "" {
		t.Fatalf("retry must clear past failure reason, got %q", retried.FailureReason)
	}
	if retried.ID != failed.ID {
		t.Fatalf("retry must overwrite the same payment record")
	}
	if got := f.orderStatus(t, "order-1"); got != domain.OrderStatusPaid {
		t.Fatalf("expected paid after retry, got %s", got)
	}

	rec := f.stockRecord(t, "product-1")
	if rec.QuantityOnHand != 8 || rec.ReservedQuantity != 0 {
		t.Fatalf("retry settlement must deduct stock once, got %+v", rec)
	}
}

func TestProcessorProcess_RetryWithoutStock(t *testing.T) {
	f := newFixture(t)
	f.seedAwaitingOrder(t, "order-1", 2, 500)
	ctx := context.Background()

	if _, err := f.processor.Process(ctx, Request{OrderID: "order-1", AmountMinor: 1, Provider: "card", Method: "card"}); err != nil {
		t.Fatalf("failing process: %v", err)
	}

	// Пока заказ ждал повторной оплаты, товар разобрали.
	rec := f.stockRecord(t, "product-1")
	rec.QuantityOnHand = 1
	if err := f.stock.Save(ctx, rec); err != nil {
		t.Fatalf("drain stock: %v", err)
	}

	_, err := f.processor.Process(ctx, Request{OrderID: "order-1", AmountMinor: 1000, Provider: "card", Method: "card"})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on retry, got %v", err)
	}
	if got := f.orderStatus(t, "order-1"); got != domain.OrderStatusPaymentFailed {
		t.Fatalf("order must stay payment_failed, got %s", got)
	}
}

func TestProcessorProcess_WrongStatusRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := domain.Order{
		ID:       "order-1",
		UserID:   "user-1",
		Status:   domain.OrderStatusCancelled,
		Currency: "CNY",
		Lines:    []domain.OrderLine{{ProductID: "product-1", Quantity: 1, UnitPriceMinor: 100}},
	}
	order.TotalMinor = order.LinesTotalMinor()
	if err := f.orders.Create(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	_, err := f.processor.Process(ctx, Request{OrderID: "order-1", AmountMinor: 100, Provider: "card", Method: "card"})
	if !errors.Is(err, domain.ErrOrderTransitionInvalid) {
		t.Fatalf("expected transition error, got %v", err)
	}
}

func TestProcessorProcess_RequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{name: "missing order", req: Request{Provider: "card", Method: "card"}, want: domain.ErrOrderIDRequired},
		{name: "missing provider", req: Request{OrderID: "order-1", Method: "card"}, want: domain.ErrPaymentProviderRequired},
		{name: "missing method", req: Request{OrderID: "order-1", Provider: "card"}, want: domain.ErrPaymentMethodRequired},
		{name: "negative amount", req: Request{OrderID: "order-1", Provider: "card", Method: "card", AmountMinor: -1}, want: domain.ErrPaymentAmountNegative},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.processor.Process(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestProcessorProcess_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.Process(context.Background(), Request{OrderID: "missing", AmountMinor: 1, Provider: "card", Method: "card"})
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestProcessorProcess_ConcurrentAttemptsSettleOnce(t *testing.T) {
	f := newFixture(t)
	f.seedAwaitingOrder(t, "order-1", 2, 500)
	ctx := context.Background()

	const attempts = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		refs = make(map[string]struct{})
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payment, err := f.processor.Process(ctx, Request{
				OrderID:     "order-1",
				AmountMinor: 1000,
				Provider:    "card",
				Method:      "card",
			})
			if err != nil {
				t.Errorf("process: %v", err)
				return
			}
			mu.Lock()
			refs[payment.ProviderReference] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Все попытки обязаны увидеть один и тот же расчёт.
	if len(refs) != 1 {
		t.Fatalf("expected a single settlement, got references %v", refs)
	}
	rec := f.stockRecord(t, "product-1")
	if rec.QuantityOnHand != 8 || rec.ReservedQuantity != 0 {
		t.Fatalf("stock must be deducted exactly once, got %+v", rec)
	}
}

func TestProcessorGetByOrder(t *testing.T) {
	f := newFixture(t)
	f.seedAwaitingOrder(t, "order-1", 1, 300)
	ctx := context.Background()

	if _, err := f.processor.GetByOrder(ctx, "order-1"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected payment not found before first attempt, got %v", err)
	}

	if _, err := f.processor.Process(ctx, Request{OrderID: "order-1", AmountMinor: 300, Provider: "card", Method: "card"}); err != nil {
		t.Fatalf("process: %v", err)
	}

	payment, err := f.processor.GetByOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("get by order: %v", err)
	}
	if payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("unexpected payment %+v", payment)
	}
}
