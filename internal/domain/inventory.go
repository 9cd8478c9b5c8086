package domain

import "time"

// InventoryRecord хранит складской учёт по одному товару.
// Запись заводится лениво при первой корректировке остатка.
type InventoryRecord struct {
	ProductID        string
	QuantityOnHand   int64
	ReservedQuantity int64
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AvailableQuantity возвращает остаток, доступный для резервирования.
// Только эта величина участвует в решениях о резерве.
func (r *InventoryRecord) AvailableQuantity() int64 {
	return r.QuantityOnHand - r.ReservedQuantity
}

// ValidateInvariants проверяет инварианты складской записи:
// 0 <= ReservedQuantity <= QuantityOnHand.
func (r *InventoryRecord) ValidateInvariants() []error {
	var errs []error

	if r.ProductID == "" {
		errs = append(errs, ErrProductNotTracked)
	}
	if r.QuantityOnHand < 0 || r.ReservedQuantity < 0 {
		errs = append(errs, ErrStockWouldGoNegative)
	}
	if r.ReservedQuantity > r.QuantityOnHand {
		errs = append(errs, ErrReservationShortfall)
	}

	return errs
}

// StockChange описывает одну строку пакетной складской операции.
type StockChange struct {
	ProductID string
	Qty       int64
}

// StockChangesFromLines переводит позиции заказа в пакет складских изменений,
// суммируя повторяющиеся товары.
func StockChangesFromLines(lines []OrderLine) []StockChange {
	byProduct := make(map[string]int64, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := byProduct[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		byProduct[line.ProductID] += int64(line.Quantity)
	}

	changes := make([]StockChange, 0, len(order))
	for _, productID := range order {
		changes = append(changes, StockChange{ProductID: productID, Qty: byProduct[productID]})
	}
	return changes
}
