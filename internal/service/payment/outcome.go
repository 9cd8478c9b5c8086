package payment

import (
	"strings"

	"github.com/google/uuid"
)

// Способ оплаты, который всегда отклоняется. Используется в тестах и демо.
const simulateFailureMethod = "simulate-failure"

const (
	reasonAmountMismatch   = "amount mismatch"
	reasonSimulatedFailure = "simulated failure"
)

// Outcome описывает решение платёжного шлюза по одной попытке оплаты.
type Outcome struct {
	Approved      bool
	FailureReason string
}

// DecideOutcome детерминированно вычисляет исход платежа по сумме и способу
// оплаты. Сумма обязана совпадать с суммой заказа до последней минорной
// единицы; провайдер — лишь метка канала и на решение не влияет.
func DecideOutcome(orderTotalMinor, amountMinor int64, method string) Outcome {
	if amountMinor != orderTotalMinor {
		return Outcome{FailureReason: reasonAmountMismatch}
	}
	if strings.EqualFold(method, simulateFailureMethod) {
		return Outcome{FailureReason: reasonSimulatedFailure}
	}
	return Outcome{Approved: true}
}

// newProviderReference выдаёт ссылку шлюза для успешного платежа.
func newProviderReference() string {
	return "PAY-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
