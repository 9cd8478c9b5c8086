// Package locks реализует мьютекс с блокировкой по логическому ключу.
// Записи создаются по требованию и удаляются, как только по ключу не
// осталось ожидающих, поэтому таблица не растёт бесконечно.
package locks

import "sync"

type entry struct {
	mu sync.Mutex
	// refs учитывает держателя и всех ожидающих; изменяется под k.mu.
	refs int
}

// Keyed раздаёт мьютексы по строковому ключу. Разные ключи блокируются
// независимо, повторный Lock одного ключа сериализуется.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed создаёт пустую таблицу ключевых мьютексов.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock захватывает мьютекс ключа, при необходимости создавая запись.
func (k *Keyed) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock освобождает мьютекс ключа и удаляет запись, если ожидающих больше нет.
func (k *Keyed) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		panic("locks: unlock of unknown key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// Len возвращает число живых записей; используется тестами и метриками.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
