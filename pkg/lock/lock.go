package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLocked is returned when the key is already held
var ErrLocked = errors.New("lock already held")

// Locker grants exclusive, non-blocking ownership of a key. The returned
// function releases it and is safe to call more than once.
type Locker interface {
	TryLock(ctx context.Context, key string) (func(), error)
}

// Local is an in-process Locker
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryLock implements Locker
func (l *Local) TryLock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
