// Package idgen выдаёт идентификаторы заказов.
package idgen

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mubai-gl/monoshop/internal/domain"
)

// UUIDv7 генерирует идентификаторы заказов на основе UUID версии 7:
// они глобально уникальны и примерно упорядочены по времени создания,
// поэтому сортировка по ID согласуется с сортировкой по created_at.
type UUIDv7 struct{}

// NewUUIDv7 возвращает генератор идентификаторов заказов.
func NewUUIDv7() *UUIDv7 {
	return &UUIDv7{}
}

// NewOrderID выдаёт новый идентификатор заказа.
func (g *UUIDv7) NewOrderID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	return id.String(), nil
}

var _ domain.IDGenerator = (*UUIDv7)(nil)
