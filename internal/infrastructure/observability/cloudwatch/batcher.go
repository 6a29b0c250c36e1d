package cloudwatch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond

	backgroundFlushTimeout = 30 * time.Second
)

// batcher накапливает записи и отдает их send пачкой: при заполнении,
// по таймеру и при закрытии. Неотправленные записи остаются в буфере.
type batcher[T any] struct {
	mu      sync.Mutex
	pending []T
	limit   int

	send    func(ctx context.Context, items []T) error
	onError func(err error)

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newBatcher[T any](limit int, interval time.Duration, send func(context.Context, []T) error, onError func(error)) *batcher[T] {
	b := &batcher[T]{
		pending: make([]T, 0, limit),
		limit:   limit,
		send:    send,
		onError: onError,
		ticker:  time.NewTicker(interval),
		stopCh:  make(chan struct{}),
	}

	b.wg.Add(1)
	go b.run()

	return b
}

func (b *batcher[T]) add(ctx context.Context, items ...T) error {
	if len(items) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, items...)
	if len(b.pending) < b.limit {
		return nil
	}
	if err := b.sendLocked(ctx); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return nil
}

func (b *batcher[T]) flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sendLocked(ctx)
}

// close останавливает фоновую отправку и сбрасывает остаток.
func (b *batcher[T]) close(ctx context.Context) error {
	close(b.stopCh)
	b.ticker.Stop()
	b.wg.Wait()

	return b.flush(ctx)
}

func (b *batcher[T]) sendLocked(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.send(ctx, b.pending); err != nil {
		return err
	}
	b.pending = b.pending[:0]
	return nil
}

func (b *batcher[T]) run() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), backgroundFlushTimeout)
			if err := b.flush(ctx); err != nil && b.onError != nil {
				b.onError(err)
			}
			cancel()
		case <-b.stopCh:
			return
		}
	}
}

// retryPut повторяет put с экспоненциальной паузой. Ошибку, для которой
// retryNow вернул true, повторяем сразу.
func retryPut(ctx context.Context, put func(context.Context) error, retryNow func(error) bool) error {
	backoff := initialBackoff

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = put(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if retryNow != nil && retryNow(lastErr) {
			continue
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}
