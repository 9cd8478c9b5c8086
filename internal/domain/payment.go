package domain

import "time"

// PaymentStatus описывает состояние платёжной записи.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж создан, но исход ещё не определён.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSucceeded — шлюз подтвердил списание.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	// PaymentStatusFailed — шлюз отклонил платёж; причина сохранена в FailureReason.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Payment описывает платёжную запись заказа. На заказ существует не более
// одной активной записи: повторные попытки оплаты перезаписывают исход.
type Payment struct {
	ID          string
	OrderID     string
	AmountMinor int64
	Currency    string
	Status      PaymentStatus
	// Provider — канал оплаты, произвольная метка. На исход не влияет.
	Provider string
	// Method — способ оплаты, именно по нему шлюз принимает решение.
	Method string
	// ProviderReference заполняется только при успешном исходе.
	ProviderReference string
	// FailureReason заполняется только при неуспешном исходе.
	FailureReason string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.Provider == "" {
		errs = append(errs, ErrPaymentProviderRequired)
	}
	if p.Method == "" {
		errs = append(errs, ErrPaymentMethodRequired)
	}
	if p.AmountMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}

// MarkSucceeded фиксирует успешный исход и ссылку шлюза, очищая причину отказа.
func (p *Payment) MarkSucceeded(providerReference string, now time.Time) {
	p.Status = PaymentStatusSucceeded
	p.ProviderReference = providerReference
	p.FailureReason = ""
	p.UpdatedAt = now
}

// MarkFailed фиксирует отказ с причиной, очищая ссылку шлюза.
func (p *Payment) MarkFailed(reason string, now time.Time) {
	p.Status = PaymentStatusFailed
	p.ProviderReference = ""
	p.FailureReason = reason
	p.UpdatedAt = now
}
