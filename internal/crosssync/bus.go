package crosssync

import (
	"context"

	"chartfeed/internal/bus"
)

// Bus carries encoded sync messages between contexts. Every subscriber,
// including the publisher's own, receives every message.
type Bus interface {
	Publish(ctx context.Context, data []byte) error
	// Subscribe returns a channel closed when ctx ends.
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// MemoryBus is an in-process Bus for sessions sharing one process.
type MemoryBus struct {
	fan    *bus.FanOut[[]byte]
	buffer int
}

// NewMemoryBus creates a bus whose subscribers buffer up to buffer messages.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer < 1 {
		buffer = 64
	}
	return &MemoryBus{fan: bus.New[[]byte](), buffer: buffer}
}

func (m *MemoryBus) Publish(_ context.Context, data []byte) error {
	m.fan.Publish(append([]byte(nil), data...))
	return nil
}

func (m *MemoryBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	ch, cancel := m.fan.Subscribe(m.buffer)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, nil
}

// Close closes every subscription.
func (m *MemoryBus) Close() { m.fan.Close() }
