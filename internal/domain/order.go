package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в магазине.
type OrderStatus string

const (
	// OrderStatusPendingPayment — заказ создаётся; статус виден только внутри шага оформления.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusInventoryFailed — резервирование склада не удалось, заказ завершён неуспехом.
	OrderStatusInventoryFailed OrderStatus = "inventory_failed"
	// OrderStatusAwaitingPayment — товары зарезервированы, ожидаем оплату.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusPaid — оплата подтверждена, резерв списан со склада.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPaymentFailed — оплата отклонена, резерв возвращён на склад.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusCancelled — заказ отменён административно до оплаты.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal сообщает, является ли статус конечным: из него нет переходов.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusInventoryFailed, OrderStatusPaid, OrderStatusPaymentFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderLine представляет одну позицию заказа. Цена фиксируется из каталога
// в момент оформления и после сохранения заказа не меняется.
type OrderLine struct {
	// ProductID — идентификатор товара в каталоге.
	ProductID string
	// Quantity — количество единиц товара.
	Quantity int32
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах.
	UnitPriceMinor int64
}

// TotalMinor возвращает стоимость позиции.
func (l OrderLine) TotalMinor() int64 {
	return int64(l.Quantity) * l.UnitPriceMinor
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID         string
	UserID     string
	Status     OrderStatus
	Currency   string
	TotalMinor int64
	Notes      string
	Lines      []OrderLine
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LinesTotalMinor суммирует qty * price по всем позициям.
func (o *Order) LinesTotalMinor() int64 {
	var total int64
	for _, line := range o.Lines {
		total += line.TotalMinor()
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}

	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}

	// Сумма заказа обязана совпадать с суммой позиций в любом сохранённом состоянии.
	if o.LinesTotalMinor() != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// CanTransition проверяет допустимость перехода статуса по машине состояний заказа.
func (o *Order) CanTransition(next OrderStatus) bool {
	switch o.Status {
	case OrderStatusPendingPayment:
		return next == OrderStatusInventoryFailed || next == OrderStatusAwaitingPayment
	case OrderStatusAwaitingPayment:
		return next == OrderStatusPaid || next == OrderStatusPaymentFailed || next == OrderStatusCancelled
	case OrderStatusPaymentFailed:
		// Повторная оплата после неудачи разрешена.
		return next == OrderStatusPaid || next == OrderStatusPaymentFailed
	default:
		return false
	}
}
