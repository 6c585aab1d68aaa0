package telephony

import (
	"context"
	"sync"
)

// StatusBus is the message-passing boundary between the provider callback
// endpoint and the heavy follow-up work (transitioning, transcript fetch,
// extraction). The webhook handler only publishes; one forwarder consumes.
type StatusBus interface {
	Publish(ctx context.Context, evt StatusEvent) error
	StartForwarder(ctx context.Context, onEvent func(evt StatusEvent)) error
	Close() error
}

// MemBus is an in-process StatusBus. It backs tests and redis-less
// single-node deployments.
type MemBus struct {
	mu     sync.Mutex
	ch     chan StatusEvent
	closed bool
}

func NewMemBus(buffer int) *MemBus {
	if buffer < 1 {
		buffer = 256
	}
	return &MemBus{ch: make(chan StatusEvent, buffer)}
}

func (b *MemBus) Publish(ctx context.Context, evt StatusEvent) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case b.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemBus) StartForwarder(ctx context.Context, onEvent func(evt StatusEvent)) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-b.ch:
				if !ok {
					return
				}
				onEvent(evt)
			}
		}
	}()
	return nil
}

func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}
