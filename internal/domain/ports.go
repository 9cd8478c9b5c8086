package domain

import "time"

// IDGenerator выдаёт уникальные, примерно упорядоченные по времени
// идентификаторы заказов до записи в хранилище.
type IDGenerator interface {
	NewOrderID() (string, error)
}

// Clock поставляет метки времени для created/updated полей.
// Выделен в интерфейс, чтобы тесты управляли временем.
type Clock interface {
	Now() time.Time
}

// SystemClock возвращает Clock поверх системного времени в UTC.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// OutboxMessage — доменное событие, ожидающее доставки наружу.
// Payload хранится как готовый JSON.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats — срез состояния backlog: сколько записей ждут отправки
// и когда появилась самая старая из них.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher доставляет событие во внешнюю шину.
// Повторный вызов с тем же событием не должен ломать получателей.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// OutboxRepository — очередь transactional outbox: Enqueue пишет событие
// в одной транзакции с изменением агрегата, воркер забирает его через
// PullPending и закрывает MarkSent или MarkFailed.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит историю жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}
