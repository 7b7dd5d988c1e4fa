package network

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ospf-simulation/internal/message"
)

var (
	// ErrInvalidAddress is returned for endpoint ids outside the link.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrEmpty means nothing is queued for the endpoint right now.
	ErrEmpty = errors.New("no message available")
)

// DelayModel selects how in-flight messages share the propagation delay.
type DelayModel uint8

const (
	// HeadOfLine keeps one in-flight queue for the whole link: a message that
	// is not due yet holds back every later message, whatever its destination.
	HeadOfLine DelayModel = iota
	// PerDestination keeps an independent in-flight queue per endpoint.
	PerDestination
)

func (m DelayModel) String() string {
	switch m {
	case HeadOfLine:
		return "head_of_line"
	case PerDestination:
		return "per_destination"
	default:
		return "unknown"
	}
}

// ParseDelayModel accepts the names produced by DelayModel.String.
func ParseDelayModel(s string) (DelayModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "head_of_line":
		return HeadOfLine, nil
	case "per_destination":
		return PerDestination, nil
	default:
		return HeadOfLine, fmt.Errorf("unknown delay model %q", s)
	}
}

// Config holds the link parameters.
type Config struct {
	// Delay is the propagation delay applied to every message.
	// Default: 0
	Delay time.Duration

	// LossProbability is the chance that a due message is dropped.
	// Default: 0
	LossProbability float64

	// QueueCapacity bounds the input stage and every delivery queue.
	// Default: 4096
	QueueCapacity int

	// DelayModel picks head-of-line or per-destination delay queues.
	// Default: HeadOfLine
	DelayModel DelayModel
}

// DefaultConfig returns a lossless, zero-delay link configuration.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 4096,
		DelayModel:    HeadOfLine,
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %v", c.Delay)
	}
	if c.LossProbability < 0 || c.LossProbability > 1 {
		return fmt.Errorf("loss probability must be within [0, 1], got %v", c.LossProbability)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1, got %d", c.QueueCapacity)
	}
	if c.DelayModel != HeadOfLine && c.DelayModel != PerDestination {
		return fmt.Errorf("unknown delay model %d", c.DelayModel)
	}
	return nil
}

// Option customises a Link.
type Option func(*Link)

// WithRand sets the uniform [0, 1) source used for loss decisions.
func WithRand(fn func() float64) Option {
	return func(l *Link) { l.rand = fn }
}

// WithLogger sets the link logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Link) { l.logger = logger }
}

type inFlight struct {
	msg      message.ChannelMessage
	enqueued time.Time
}

// Link simulates a shared medium with one delivery queue per endpoint, a
// fixed propagation delay and independent random loss per message.
//
// Send and Receive are safe for concurrent use. Pump must only be called from
// one goroutine.
type Link struct {
	cfg     Config
	input   *Mailbox[message.ChannelMessage]
	outputs []*Mailbox[message.Message]
	flying  [][]inFlight

	rand   func() float64
	logger *zap.Logger

	delivered  atomic.Uint64
	lost       atomic.Uint64
	overflowed atomic.Uint64
}

// NewLink creates a link with the given number of endpoints.
func NewLink(endpoints int, cfg Config, opts ...Option) (*Link, error) {
	if endpoints < 1 {
		return nil, fmt.Errorf("invalid config: link needs at least one endpoint, got %d", endpoints)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l := &Link{
		cfg:     cfg,
		input:   NewMailbox[message.ChannelMessage]("link-input", cfg.QueueCapacity),
		outputs: make([]*Mailbox[message.Message], endpoints),
		rand:    rand.Float64,
		logger:  zap.NewNop(),
	}
	for i := range l.outputs {
		l.outputs[i] = NewMailbox[message.Message](fmt.Sprintf("link-out-%d", i), cfg.QueueCapacity)
	}
	if cfg.DelayModel == PerDestination {
		l.flying = make([][]inFlight, endpoints)
	} else {
		l.flying = make([][]inFlight, 1)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Endpoints returns the number of addressable endpoints.
func (l *Link) Endpoints() int {
	return len(l.outputs)
}

// Config returns the link configuration.
func (l *Link) Config() Config {
	return l.cfg
}

// Send submits msg for delivery to msg.Destination.
func (l *Link) Send(ctx context.Context, msg message.ChannelMessage) error {
	if msg.Destination < 0 || msg.Destination >= len(l.outputs) {
		return fmt.Errorf("send to endpoint %d of %d: %w", msg.Destination, len(l.outputs), ErrInvalidAddress)
	}
	return l.input.Send(ctx, msg)
}

// Receive returns the next message queued for endpoint, or ErrEmpty.
func (l *Link) Receive(endpoint int) (message.Message, error) {
	if endpoint < 0 || endpoint >= len(l.outputs) {
		return nil, fmt.Errorf("receive on endpoint %d of %d: %w", endpoint, len(l.outputs), ErrInvalidAddress)
	}
	msg, ok := l.outputs[endpoint].TryReceive()
	if !ok {
		return nil, ErrEmpty
	}
	return msg, nil
}

// Ready signals after a message was queued for endpoint. It returns nil, a
// channel that never fires, for an unknown endpoint.
func (l *Link) Ready(endpoint int) <-chan struct{} {
	if endpoint < 0 || endpoint >= len(l.outputs) {
		return nil
	}
	return l.outputs[endpoint].Ready()
}

// Pump moves submitted messages in flight, then makes at most one
// deliver-or-drop decision per in-flight queue. It reports whether any
// decision was made.
func (l *Link) Pump(now time.Time) bool {
	decided := false
	for {
		msg, ok := l.input.TryReceive()
		if !ok {
			break
		}
		q := 0
		if l.cfg.DelayModel == PerDestination {
			q = msg.Destination
		}
		l.flying[q] = append(l.flying[q], inFlight{msg: msg, enqueued: now})
	}

	for q, pending := range l.flying {
		if len(pending) == 0 {
			continue
		}
		head := pending[0]
		if now.Before(head.enqueued.Add(l.cfg.Delay)) {
			continue
		}
		pending[0] = inFlight{}
		l.flying[q] = pending[1:]
		decided = true

		if l.rand() < l.cfg.LossProbability {
			l.lost.Add(1)
			continue
		}
		if !l.outputs[head.msg.Destination].TrySend(head.msg.Payload) {
			l.overflowed.Add(1)
			l.logger.Debug("delivery queue full, dropping",
				zap.Int("endpoint", head.msg.Destination),
				zap.Stringer("kind", head.msg.Payload.Kind()))
			continue
		}
		l.delivered.Add(1)
	}
	return decided
}

// Run pumps the link until ctx is done. It keeps pumping while messages
// are due and otherwise waits for a submission or pollInterval, whichever
// comes first.
func (l *Link) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if l.Pump(time.Now()) {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.input.Ready():
		case <-ticker.C:
		}
	}
}

// Stats summarises link traffic.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Delivered  uint64 `json:"delivered"`
	Lost       uint64 `json:"lost"`
	Overflowed uint64 `json:"overflowed"`
}

// Stats returns the current link counters.
func (l *Link) Stats() Stats {
	return Stats{
		Submitted:  l.input.Stats().Sent,
		Delivered:  l.delivered.Load(),
		Lost:       l.lost.Load(),
		Overflowed: l.overflowed.Load(),
	}
}
