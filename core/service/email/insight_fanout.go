package mail

import (
	"context"

	"github.com/go-pkgz/pool"
)

// itemWorker adapts a per-item function to pool.Worker.
type itemWorker[T any] struct {
	do func(ctx context.Context, item T)
}

// Do implements pool.Worker interface.
func (w *itemWorker[T]) Do(ctx context.Context, item T) error {
	w.do(ctx, item)
	return nil
}

// fanOut runs do for every item with at most size concurrent workers and
// returns once all items are processed.
func fanOut[T any](ctx context.Context, size int, items []T, do func(ctx context.Context, item T)) error {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1
	}
	if size > len(items) {
		size = len(items)
	}

	wg := pool.New[T](size, &itemWorker[T]{do: do}).WithContinueOnError()
	if err := wg.Go(ctx); err != nil {
		return err
	}
	for _, item := range items {
		wg.Submit(item)
	}
	return wg.Close(ctx)
}
