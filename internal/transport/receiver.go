package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Receiver answers every data segment with a confirmation addressed to the
// segment's origin. It keeps no window state.
type Receiver struct {
	endpoint Endpoint
	ready    <-chan struct{}
	poll     time.Duration
	logger   *zap.Logger

	confirmed atomic.Uint64
	mu        sync.Mutex
	seen      map[int]struct{}
}

// NewReceiver binds a receiver to endpoint.
func NewReceiver(endpoint Endpoint, pollInterval time.Duration, opts ...Option) (*Receiver, error) {
	if pollInterval <= 0 {
		return nil, fmt.Errorf("invalid config: poll interval must be positive, got %v", pollInterval)
	}
	o := buildOptions(opts)
	return &Receiver{
		endpoint: endpoint,
		ready:    readyOf(endpoint),
		poll:     pollInterval,
		logger:   o.logger.Named("receiver"),
		seen:     make(map[int]struct{}),
	}, nil
}

// Run confirms segments until ctx is done. Cancellation is the normal way
// to stop it and is not reported as an error.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		handled, err := r.Tick(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if handled {
			continue
		}
		if wait(ctx, r.poll, r.ready) != nil {
			return nil
		}
	}
}

// Tick handles at most one delivered message and reports whether there was
// one.
func (r *Receiver) Tick(ctx context.Context) (bool, error) {
	d, ok := r.endpoint.Fetch()
	if !ok {
		return false, nil
	}
	seg, ok := d.Payload.(Segment)
	if !ok || seg.Kind != DataSegment {
		r.logger.Debug("ignoring payload", zap.Any("payload", d.Payload))
		return true, nil
	}
	if err := r.endpoint.Send(ctx, d.Origin, Segment{Kind: Confirmation, Index: seg.Index}); err != nil {
		return true, err
	}
	r.confirmed.Add(1)
	r.mu.Lock()
	r.seen[seg.Index] = struct{}{}
	r.mu.Unlock()
	return true, nil
}

// Confirmed returns how many confirmations were sent, duplicates included.
func (r *Receiver) Confirmed() uint64 {
	return r.confirmed.Load()
}

// Distinct returns how many different indices were received.
func (r *Receiver) Distinct() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
