// Package bus provides a non-blocking broadcast of values to many observers.
package bus

import (
	"log/slog"
	"sync"
)

// FanOut broadcasts values to N subscriber channels. A full subscriber never
// blocks the publisher: its oldest buffered value is discarded so it always
// ends up holding the latest one.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs map[int]chan T
	nextID  int
	closed  bool

	// OnDrop is called when a value is discarded for a slow subscriber.
	OnDrop func(subscriberID int)
}

// New creates an empty FanOut.
func New[T any]() *FanOut[T] {
	return &FanOut[T]{outputs: make(map[int]chan T)}
}

// Subscribe creates an output channel with the given buffer (minimum 1).
// The returned func unsubscribes and closes the channel.
func (f *FanOut[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.outputs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.outputs[id]; ok {
				delete(f.outputs, id)
				close(c)
			}
		})
	}
}

// Publish delivers v to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	// Write lock: the drain-then-send below must not race another Publish
	// on the same channel.
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for id, ch := range f.outputs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
		if f.OnDrop != nil {
			f.OnDrop(id)
		} else {
			slog.Debug("bus subscriber full, dropped oldest value", slog.Int("subscriber", id))
		}
	}
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.outputs {
		close(ch)
		delete(f.outputs, id)
	}
}

// ChannelStat reports saturation of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns (length, capacity) for each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(f.outputs))
	for _, ch := range f.outputs {
		stats = append(stats, ChannelStat{Len: len(ch), Cap: cap(ch)})
	}
	return stats
}

// Len returns the number of subscribers.
func (f *FanOut[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.outputs)
}
