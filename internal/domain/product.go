package domain

import "time"

// Product — карточка товара в каталоге. Ядро читает из каталога имя и
// текущую цену; управление каталогом остаётся за внешним слоем.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	Currency   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
