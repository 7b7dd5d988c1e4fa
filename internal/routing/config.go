package routing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/liveness"
	"ospf-simulation/internal/message"
)

// Config holds the protocol timings shared by routers and the aggregator.
// Each actor gets its own copy at construction; nothing is read from
// package state.
type Config struct {
	// HelloInterval is the period between Hellos to one peer.
	// Default: 500ms
	HelloInterval time.Duration

	// DeadInterval is the silence after which a peer is declared dead.
	// Must exceed HelloInterval.
	// Default: 1s
	DeadInterval time.Duration

	// ResendInterval throttles LSAs, DB requests and topology floods.
	// Default: 200ms
	ResendInterval time.Duration

	// PollInterval is how long an actor yields between ticks.
	// Default: 100µs
	PollInterval time.Duration

	// QueueCapacity bounds a router's local delivery queue.
	// Default: 4096
	QueueCapacity int
}

// DefaultConfig returns the timings of the reference protocol.
func DefaultConfig() Config {
	return Config{
		HelloInterval:  500 * time.Millisecond,
		DeadInterval:   time.Second,
		ResendInterval: 200 * time.Millisecond,
		PollInterval:   100 * time.Microsecond,
		QueueCapacity:  4096,
	}
}

// Validate checks value ranges and the hello/dead relationship.
func (c Config) Validate() error {
	if err := c.liveness().Validate(); err != nil {
		return err
	}
	if c.ResendInterval <= 0 {
		return fmt.Errorf("resend interval must be positive, got %v", c.ResendInterval)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1, got %d", c.QueueCapacity)
	}
	return nil
}

func (c Config) liveness() liveness.Config {
	return liveness.Config{
		HelloInterval: c.HelloInterval,
		DeadInterval:  c.DeadInterval,
	}
}

// Medium is the part of the link a routing actor talks through.
type Medium interface {
	Send(ctx context.Context, msg message.ChannelMessage) error
	Receive(endpoint int) (message.Message, error)
}

type options struct {
	logger *zap.Logger
	events eventBus.Emitter
}

// Option customises a Router or an Aggregator.
type Option func(*options)

// WithLogger sets the actor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEvents publishes protocol events through em.
func WithEvents(em eventBus.Emitter) Option {
	return func(o *options) { o.events = em }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// elapsed reports whether interval has passed since last, treating a zero
// last as "never".
func elapsed(last, now time.Time, interval time.Duration) bool {
	return last.IsZero() || !now.Before(last.Add(interval))
}
