package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create атомарно сохраняет новый заказ вместе с позициями.
	// Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми,
	// с опциональным ограничением на количество.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// запись с несовпавшей версией отклоняется с ErrVersionConflict.
	Save(ctx context.Context, order Order) error
}

// InventoryRepository описывает хранилище складских записей.
type InventoryRepository interface {
	// Get возвращает запись по товару или ErrProductNotTracked.
	Get(ctx context.Context, productID string) (InventoryRecord, error)
	// GetByProductIDs возвращает записи по набору товаров одним согласованным
	// снимком. Отсутствующие товары просто не попадают в результат.
	GetByProductIDs(ctx context.Context, productIDs []string) ([]InventoryRecord, error)
	// List возвращает все складские записи.
	List(ctx context.Context) ([]InventoryRecord, error)
	// Create заводит новую складскую запись для товара.
	Create(ctx context.Context, record InventoryRecord) error
	// Save сохраняет запись с проверкой версии.
	Save(ctx context.Context, record InventoryRecord) error
	// SaveBatch сохраняет пакет записей по принципу «всё или ничего»:
	// конфликт версии любой записи откатывает весь пакет с ErrVersionConflict.
	SaveBatch(ctx context.Context, records []InventoryRecord) error
}

// PaymentRepository описывает хранилище платёжных записей.
type PaymentRepository interface {
	// Create сохраняет первую платёжную запись заказа.
	Create(ctx context.Context, payment Payment) error
	// GetByOrder возвращает платёж заказа или ErrPaymentNotFound.
	GetByOrder(ctx context.Context, orderID string) (Payment, error)
	// Save перезаписывает платёж с проверкой версии.
	Save(ctx context.Context, payment Payment) error
}

// ProductRepository — каталог товаров, для ядра фактически read-only.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	// GetByIDs возвращает карточки по набору идентификаторов;
	// отсутствующие товары не попадают в результат.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	List(ctx context.Context, limit int) ([]Product, error)
}
