package mavlink

import (
	"context"
	"sync"
)

// fanout distributes state reports to any number of subscribers. When replay
// is set, new subscribers immediately receive the last published value, so a
// late subscriber does not have to wait for the next broadcast. The home
// position fanout keeps replay off: a stale fix must never be reused.
type fanout[T any] struct {
	replay bool

	mu   sync.Mutex
	subs map[int]chan T
	next int
	last *T
}

func newFanout[T any](replay bool) *fanout[T] {
	return &fanout[T]{replay: replay, subs: make(map[int]chan T)}
}

func (f *fanout[T]) subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 16)

	f.mu.Lock()
	id := f.next
	f.next++
	if f.replay && f.last != nil {
		ch <- *f.last
	}
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
		f.mu.Unlock()
	}()

	return ch
}

// publish delivers v to all current subscribers, dropping it for any
// subscriber whose buffer is full.
func (f *fanout[T]) publish(v T) {
	f.mu.Lock()
	f.last = &v
	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
		}
	}
	f.mu.Unlock()
}
