package session

import "sync"

// registry is a publish/subscribe list for one event kind. Add returns an
// unsubscribe closure that is safe to call more than once.
type registry[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(T)
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{subs: make(map[int]func(T))}
}

func (r *registry[T]) add(fn func(T)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// notify invokes every subscriber with v. The subscriber list is snapshotted
// first so callbacks may subscribe or unsubscribe without deadlocking.
func (r *registry[T]) notify(v T) {
	r.mu.RLock()
	fns := make([]func(T), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
