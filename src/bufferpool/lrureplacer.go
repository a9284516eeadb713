package bufferpool

import (
	"container/list"
	"sync"

	"github.com/Blackdeer1524/RelStore/src/pkg/optional"
)

// LRUReplacer is an ordered set of eviction candidates. Insert promotes
// to most-recently-used; Victim pops the least-recently-used tail.
type LRUReplacer[T comparable] struct {
	mu      sync.Mutex
	lru     *list.List
	entries map[T]*list.Element
}

func NewLRUReplacer[T comparable]() *LRUReplacer[T] {
	return &LRUReplacer[T]{
		lru:     list.New(),
		entries: make(map[T]*list.Element),
	}
}

func (l *LRUReplacer[T]) Insert(value T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.entries[value]; ok {
		l.lru.Remove(elem)
	}

	l.entries[value] = l.lru.PushFront(value)
}

func (l *LRUReplacer[T]) Victim() optional.Optional[T] {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem := l.lru.Back()
	if elem == nil {
		return optional.None[T]()
	}

	value := elem.Value.(T)

	l.lru.Remove(elem)
	delete(l.entries, value)

	return optional.Some(value)
}

func (l *LRUReplacer[T]) Erase(value T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.entries[value]
	if !ok {
		return false
	}

	l.lru.Remove(elem)
	delete(l.entries, value)

	return true
}

func (l *LRUReplacer[T]) Size() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return uint64(len(l.entries))
}
