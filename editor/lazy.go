package editor

import (
	"context"
	"sync"
)

// lazy holds a value that is initialised on first use. A failed
// initialisation is not remembered, so the next caller tries again, and
// concurrent first callers never initialise twice. Callers waiting behind a
// load give up when their context ends.
type lazy[T any] struct {
	init   sync.Once
	sem    chan struct{}
	val    T
	loaded bool
}

func (l *lazy[T]) lock(ctx context.Context) error {
	l.init.Do(func() { l.sem = make(chan struct{}, 1) })
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lazy[T]) unlock() { <-l.sem }

func (l *lazy[T]) get(ctx context.Context, load func() (T, error)) (T, error) {
	var zero T
	if err := l.lock(ctx); err != nil {
		return zero, err
	}
	defer l.unlock()
	if l.loaded {
		return l.val, nil
	}
	v, err := load()
	if err != nil {
		return zero, err
	}
	l.val, l.loaded = v, true
	return v, nil
}

func (l *lazy[T]) isLoaded() bool {
	if err := l.lock(context.Background()); err != nil {
		return false
	}
	defer l.unlock()
	return l.loaded
}
