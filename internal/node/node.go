package node

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ospf-simulation/internal/eventBus"
)

// Ticker is one protocol actor: a router or the aggregator.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) error
}

// Node drives a Ticker from its own goroutine and can silence it to inject
// topology churn.
type Node struct {
	id     int
	ticker Ticker
	poll   time.Duration
	wake   <-chan struct{}

	suspended atomic.Bool
	ticks     atomic.Uint64

	logger *zap.Logger
	events eventBus.Emitter
}

// Status is a point-in-time view of a node.
type Status struct {
	ID        int    `json:"id"`
	Suspended bool   `json:"suspended"`
	Ticks     uint64 `json:"ticks"`
}

// Option customises a Node.
type Option func(*Node)

// WithLogger sets the node logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

// WithEvents publishes suspend/resume events through em.
func WithEvents(em eventBus.Emitter) Option {
	return func(n *Node) { n.events = em }
}

// WithWake ticks the node as soon as wake fires instead of waiting for the
// next poll. Pass the channel that signals new inbound messages.
func WithWake(wake <-chan struct{}) Option {
	return func(n *Node) { n.wake = wake }
}

// New wraps t as the actor at endpoint id, ticking every poll.
func New(id int, t Ticker, poll time.Duration, opts ...Option) *Node {
	n := &Node{
		id:     id,
		ticker: t,
		poll:   poll,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(zap.Int("node", id))
	return n
}

// ID returns the node's endpoint id.
func (n *Node) ID() int { return n.id }

// Run ticks every poll, and whenever the wake channel fires, until ctx is
// done. Cancellation is a normal stop; a tick error while ctx is still live
// is returned.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Debug("node started")
	defer n.logger.Debug("node stopped", zap.Uint64("ticks", n.ticks.Load()))

	ticker := time.NewTicker(n.poll)
	defer ticker.Stop()

	now := time.Now()
	for {
		if !n.suspended.Load() {
			if err := n.ticker.Tick(ctx, now); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("node %d: %w", n.id, err)
			}
			n.ticks.Add(1)
		}
		select {
		case <-ctx.Done():
			return nil
		case now = <-ticker.C:
		case <-n.wake:
			now = time.Now()
		}
	}
}

// Suspend stops ticking, so the node goes silent: no hellos, no forwarding.
func (n *Node) Suspend() {
	if n.suspended.CompareAndSwap(false, true) {
		n.logger.Info("node suspended")
		n.events.Emit(eventBus.Event{Type: eventBus.EventNodeSuspended, RouterID: n.id})
	}
}

// Resume undoes Suspend.
func (n *Node) Resume() {
	if n.suspended.CompareAndSwap(true, false) {
		n.logger.Info("node resumed")
		n.events.Emit(eventBus.Event{Type: eventBus.EventNodeResumed, RouterID: n.id})
	}
}

// Suspended reports whether the node is silenced.
func (n *Node) Suspended() bool {
	return n.suspended.Load()
}

// Status returns the node's current state.
func (n *Node) Status() Status {
	return Status{
		ID:        n.id,
		Suspended: n.suspended.Load(),
		Ticks:     n.ticks.Load(),
	}
}
