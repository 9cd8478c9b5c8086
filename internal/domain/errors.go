package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка отсутствующих платёжных реквизитов при оформлении заказа.
	ErrPaymentIntentRequired = errors.New("payment intent is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrLinePriceInvalid = errors.New("line unit price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match lines sum")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего кода платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// Ошибка отсутствующего способа оплаты.
	ErrPaymentMethodRequired = errors.New("payment method is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrPaymentNotFound возвращается, если по заказу ещё нет платёжной записи.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrProductNotTracked — для товара не заведена складская запись.
	ErrProductNotTracked = errors.New("product is not tracked in inventory")

	// ErrInsufficientStock — доступного остатка недостаточно для резерва.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrReservationShortfall — списание превышает зарезервированное количество.
	ErrReservationShortfall = errors.New("commit exceeds reserved quantity")
	// ErrStockWouldGoNegative — корректировка увела бы остаток в минус.
	ErrStockWouldGoNegative = errors.New("adjustment would drive stock negative")

	// ErrVersionConflict сигнализирует о конфликте версий при сохранении записи.
	ErrVersionConflict = errors.New("version conflict")
	// ErrOrderTransitionInvalid — запрошенный переход статуса недопустим.
	ErrOrderTransitionInvalid = errors.New("order status transition is not allowed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFound проверяет, относится ли ошибка к отсутствующей записи.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrProductNotTracked)
}

// IsValidation проверяет, вызвана ли ошибка некорректным запросом вызывающей стороны.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrCurrencyRequired) ||
		errors.Is(err, ErrLinesRequired) ||
		errors.Is(err, ErrPaymentIntentRequired) ||
		errors.Is(err, ErrLineQtyInvalid) ||
		errors.Is(err, ErrLinePriceInvalid) ||
		errors.Is(err, ErrOrderIDRequired) ||
		errors.Is(err, ErrPaymentAmountNegative) ||
		errors.Is(err, ErrPaymentProviderRequired) ||
		errors.Is(err, ErrPaymentMethodRequired)
}
