package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ospf-simulation/internal/eventBus"
)

// SenderConfig describes one transfer.
type SenderConfig struct {
	// Items is the number of items to deliver, indexed 0..Items-1.
	Items int
	// Window is the maximum number of items in flight.
	Window int
	// Timeout is the idle time after which a window round gives up.
	Timeout time.Duration
	// Peer is the router id of the receiver.
	Peer int
	// Policy picks the items resent when a window is rebuilt.
	Policy Policy
	// PollInterval is the pause between empty reads.
	PollInterval time.Duration
}

// DefaultSenderConfig mirrors the reference experiment.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Items:        1000,
		Window:       1,
		Timeout:      10 * time.Millisecond,
		Peer:         1,
		Policy:       SelectiveRepeat,
		PollInterval: 100 * time.Microsecond,
	}
}

// Validate checks value ranges.
func (c SenderConfig) Validate() error {
	if c.Items < 0 {
		return fmt.Errorf("items must not be negative, got %d", c.Items)
	}
	if c.Window < 1 {
		return fmt.Errorf("window must be at least 1, got %d", c.Window)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.Policy == nil {
		return fmt.Errorf("repeat policy is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	return nil
}

// Result summarises a finished transfer.
type Result struct {
	Policy   string        `json:"policy" msgpack:"policy"`
	Items    int           `json:"items" msgpack:"items"`
	Window   int           `json:"window" msgpack:"window"`
	Timeouts int           `json:"timeouts" msgpack:"timeouts"`
	Sent     int           `json:"sent" msgpack:"sent"`
	Elapsed  time.Duration `json:"elapsed" msgpack:"elapsed"`
}

// Efficiency is the share of transmissions that were needed, Items/Sent.
// A transfer that sent nothing reports 1.
func (r Result) Efficiency() float64 {
	if r.Sent == 0 {
		return 1
	}
	return float64(r.Items) / float64(r.Sent)
}

type options struct {
	logger *zap.Logger
	events eventBus.Emitter
}

// Option customises a Sender or a Receiver.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEvents publishes transport events through em.
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

// Sender pushes Items to the peer through an Endpoint, one window round at a
// time.
type Sender struct {
	cfg      SenderConfig
	endpoint Endpoint
	ready    <-chan struct{}
	logger   *zap.Logger
	events   eventBus.Emitter
}

// NewSender validates cfg and binds it to endpoint.
func NewSender(endpoint Endpoint, cfg SenderConfig, opts ...Option) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := buildOptions(opts)
	return &Sender{
		cfg:      cfg,
		endpoint: endpoint,
		ready:    readyOf(endpoint),
		logger:   o.logger.With(zap.String("policy", cfg.Policy.Name()), zap.Int("window", cfg.Window)),
		events:   o.events,
	}, nil
}

// Run transfers every item and returns the counters. It returns ctx.Err()
// if the context ends before every item is confirmed.
func (s *Sender) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{
		Policy: s.cfg.Policy.Name(),
		Items:  s.cfg.Items,
		Window: s.cfg.Window,
	}
	states := make([]State, s.cfg.Items)

	windowStart := 0
	for {
		windowStart = firstUnconfirmed(states, windowStart)
		if windowStart >= len(states) {
			break
		}
		windowEnd := min(windowStart+s.cfg.Window, len(states))

		outstanding, window, err := s.sendWindow(ctx, states, windowStart, windowEnd, &res)
		if err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
		outstanding, err = s.awaitConfirmations(ctx, states, window, windowStart, outstanding)
		if err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
		if outstanding > 0 {
			res.Timeouts++
			s.logger.Debug("window timed out", zap.Int("start", windowStart), zap.Int("outstanding", outstanding))
			s.events.Emit(eventBus.Event{
				Type:     eventBus.EventWindowTimeout,
				RouterID: -1,
				PeerID:   s.cfg.Peer,
				Index:    windowStart,
			})
		}
	}

	res.Elapsed = time.Since(start)
	s.logger.Info("transfer complete",
		zap.Int("items", res.Items),
		zap.Int("sent", res.Sent),
		zap.Int("timeouts", res.Timeouts),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// sendWindow transmits every item of [start, end) the policy asks for and
// returns the per-round window states.
func (s *Sender) sendWindow(ctx context.Context, states []State, start, end int, res *Result) (int, []State, error) {
	window := make([]State, end-start)
	outstanding := 0
	for i := range window {
		idx := start + i
		if !s.cfg.Policy.NeedsResend(states[idx]) {
			window[i] = Confirmed
			continue
		}
		if err := s.endpoint.Send(ctx, s.cfg.Peer, Segment{Kind: DataSegment, Index: idx}); err != nil {
			return 0, nil, err
		}
		window[i] = Sent
		states[idx] = Sent
		res.Sent++
		outstanding++
	}
	return outstanding, window, nil
}

// awaitConfirmations consumes confirmations until the window is settled or
// Timeout passes without progress.
func (s *Sender) awaitConfirmations(ctx context.Context, states, window []State, start, outstanding int) (int, error) {
	deadline := time.Now().Add(s.cfg.Timeout)
	for outstanding > 0 && time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return outstanding, err
		}
		d, ok := s.endpoint.Fetch()
		if !ok {
			if err := wait(ctx, s.cfg.PollInterval, s.ready); err != nil {
				return outstanding, err
			}
			continue
		}
		seg, ok := d.Payload.(Segment)
		if !ok || seg.Kind != Confirmation {
			continue
		}
		pos := seg.Index - start
		if pos < 0 || pos >= len(window) || window[pos] != Sent {
			continue
		}
		window[pos] = Confirmed
		states[seg.Index] = Confirmed
		outstanding--
		deadline = time.Now().Add(s.cfg.Timeout)
	}
	return outstanding, nil
}

func firstUnconfirmed(states []State, from int) int {
	for i := from; i < len(states); i++ {
		if states[i] != Confirmed {
			return i
		}
	}
	return len(states)
}

// wait returns after d, when ready fires, or with ctx.Err().
func wait(ctx context.Context, d time.Duration, ready <-chan struct{}) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
		return nil
	case <-t.C:
		return nil
	}
}
