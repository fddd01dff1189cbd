// Package redis carries cross-context sync messages over Redis pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"chartfeed/internal/breaker"
)

// DefaultChannel is the pub/sub channel sync messages travel on.
const DefaultChannel = "chartfeed:sync"

// Config configures the Redis bus.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Channel  string

	// MaxPending bounds messages held while the breaker is open
	// (default: 256). The oldest are dropped first.
	MaxPending int
}

// Bus publishes and subscribes sync messages on one channel. Publishes run
// through a circuit breaker; while it is open they are held locally and
// replayed once it closes.
type Bus struct {
	client  *goredis.Client
	channel string
	br      *breaker.Breaker
	log     *slog.Logger
	ctx     context.Context

	mu      sync.Mutex
	pending [][]byte
	maxPend int

	// Callbacks (for metrics)
	OnBuffer func()
	OnFlush  func(count int)
}

// New connects to Redis, pings it and returns a bus guarded by br.
func New(ctx context.Context, cfg Config, br *breaker.Breaker, log *slog.Logger) (*Bus, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	b := newBus(ctx, client, cfg, br, log)
	b.log.Info("redis bus connected", slog.String("addr", cfg.Addr), slog.String("channel", b.channel))
	return b, nil
}

func newBus(ctx context.Context, client *goredis.Client, cfg Config, br *breaker.Breaker, log *slog.Logger) *Bus {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 256
	}
	if br == nil {
		br = breaker.New("redis", 5, 10*time.Second)
	}
	if log == nil {
		log = slog.Default()
	}
	b := &Bus{
		client:  client,
		channel: cfg.Channel,
		br:      br,
		log:     log.With(slog.String("component", "redis_bus")),
		ctx:     ctx,
		maxPend: cfg.MaxPending,
	}

	// Replay held messages once the breaker closes again
	prev := br.OnStateChange
	br.OnStateChange = func(name string, from, to breaker.State) {
		if prev != nil {
			prev(name, from, to)
		}
		if to == breaker.StateClosed {
			go b.flush()
		}
	}
	return b
}

// Client returns the underlying Redis client for health checks.
func (b *Bus) Client() *goredis.Client { return b.client }

// Ping checks connectivity.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish sends data on the sync channel. While the breaker is open the
// message is held and nil is returned.
func (b *Bus) Publish(ctx context.Context, data []byte) error {
	err := b.br.Execute(func() error {
		return b.client.Publish(ctx, b.channel, data).Err()
	})
	if errors.Is(err, breaker.ErrOpen) {
		b.hold(data)
		return nil
	}
	return err
}

// Subscribe listens on the sync channel until ctx ends.
func (b *Bus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					b.log.Warn("sync subscriber full, dropping message")
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) hold(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.maxPend {
		// Buffer full, drop oldest
		b.pending = b.pending[1:]
	}
	b.pending = append(b.pending, append([]byte(nil), data...))
	if b.OnBuffer != nil {
		b.OnBuffer()
	}
}

// flush replays held messages in order.
func (b *Bus) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	toFlush := b.pending
	b.pending = nil
	b.mu.Unlock()

	flushed := 0
	for _, data := range toFlush {
		if err := b.client.Publish(b.ctx, b.channel, data).Err(); err != nil {
			b.log.Warn("replay of held sync message failed", slog.Any("error", err))
			continue
		}
		flushed++
	}
	b.log.Info("flushed held sync messages", slog.Int("count", flushed))
	if b.OnFlush != nil {
		b.OnFlush(flushed)
	}
}

// PendingCount returns the number of held messages.
func (b *Bus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close closes the Redis client.
func (b *Bus) Close() error {
	return b.client.Close()
}
