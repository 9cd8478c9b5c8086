package domain

import "time"

// TimelineEvent — одна запись в истории заказа: что произошло,
// почему и когда.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Normalize подставляет момент now вместо нулевого Occurred.
// Репозитории зовут его перед сохранением, чтобы история имела
// временную метку независимо от хранилища.
func (e TimelineEvent) Normalize(now time.Time) TimelineEvent {
	if e.Occurred.IsZero() {
		e.Occurred = now.UTC()
	}
	return e
}
