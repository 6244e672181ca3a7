// memory — ограниченная таблица окон в памяти процесса.
//
// Используется как fallback лимитера. Записи живут до своего expireAt;
// при переполнении вытесняется самое старое окно. Janitor периодически
// удаляет истёкшие окна.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries — верхняя граница таблицы по умолчанию.
const DefaultMaxEntries = 100_000

type entry struct {
	key      string
	count    int64
	expireAt time.Time
}

// Store — счётчики окон под одним мьютексом.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // от старых окон к новым
	maxEntries int
	now        func() time.Time
	evicted    func()
}

// Option настраивает Store.
type Option func(*Store)

// WithMaxEntries задаёт верхнюю границу таблицы.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEvictHook вызывается при каждом вытеснении живого окна.
func WithEvictHook(fn func()) Option {
	return func(s *Store) { s.evicted = fn }
}

// New создаёт пустую таблицу.
func New(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Incr увеличивает счётчик окна. Истёкшая запись начинается заново с 1.
func (s *Store) Incr(_ context.Context, key string, expireAt time.Time) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry)
		if now.Before(e.expireAt) {
			e.count++
			return e.count, nil
		}

		s.remove(el)
	}

	for len(s.entries) >= s.maxEntries {
		s.evictOldest(now)
	}

	el := s.order.PushBack(&entry{key: key, count: 1, expireAt: expireAt})
	s.entries[key] = el

	return 1, nil
}

// Len возвращает текущее число окон.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Sweep удаляет истёкшие окна и возвращает их число.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*entry).expireAt) {
			s.remove(el)
			removed++
		}
		el = next
	}

	return removed
}

// StartJanitor запускает периодический Sweep до отмены ctx.
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

func (s *Store) evictOldest(now time.Time) {
	el := s.order.Front()
	if el == nil {
		return
	}

	if now.Before(el.Value.(*entry).expireAt) && s.evicted != nil {
		s.evicted()
	}

	s.remove(el)
}

func (s *Store) remove(el *list.Element) {
	s.order.Remove(el)
	delete(s.entries, el.Value.(*entry).key)
}
