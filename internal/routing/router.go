package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/liveness"
	"ospf-simulation/internal/mesh"
	"ospf-simulation/internal/message"
	"ospf-simulation/internal/network"
)

// Router is a link-state router. Its protocol state is owned by Tick; Send
// and Fetch may be called from other goroutines.
type Router struct {
	id         int
	aggregator int
	neighbors  []int
	medium     Medium
	cfg        Config

	aggLive   *liveness.Tracker
	neighLive *liveness.Tracker

	topology         *mesh.Topology
	routes           *mesh.FirstHops
	pendingDBRequest bool
	lastControlSend  time.Time
	viewDirty        bool

	inbox *network.Mailbox[message.Data]

	mu   sync.RWMutex
	view Snapshot

	logger *zap.Logger
	events eventBus.Emitter
}

// Snapshot is a read-only copy of a router's state, published at the end of
// a tick that changed it.
type Snapshot struct {
	ID               int
	AggregatorAlive  bool
	LiveNeighbors    []int
	PendingDBRequest bool
	Topology         *mesh.Topology
	Routes           *mesh.FirstHops
}

// NewRouter creates router id with the given static neighbors. It starts
// with a pending DB request and every peer dead.
func NewRouter(id, aggregator int, neighbors []int, medium Medium, cfg Config, opts ...Option) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if id == aggregator {
		return nil, fmt.Errorf("invalid config: router %d is also the aggregator", id)
	}
	if slices.Contains(neighbors, id) || slices.Contains(neighbors, aggregator) {
		return nil, fmt.Errorf("invalid config: router %d neighbors %v include itself or the aggregator", id, neighbors)
	}
	o := buildOptions(opts)

	r := &Router{
		id:               id,
		aggregator:       aggregator,
		neighbors:        slices.Clone(neighbors),
		medium:           medium,
		cfg:              cfg,
		aggLive:          liveness.New([]int{aggregator}, cfg.liveness()),
		neighLive:        liveness.New(neighbors, cfg.liveness()),
		pendingDBRequest: true,
		inbox:            network.NewMailbox[message.Data](fmt.Sprintf("router-%d-inbox", id), cfg.QueueCapacity),
		logger:           o.logger.With(zap.Int("router", id)),
		events:           o.events,
	}
	r.publishView()
	return r, nil
}

// ID returns the router's endpoint id.
func (r *Router) ID() int { return r.id }

// Neighbors returns the static neighbor list.
func (r *Router) Neighbors() []int { return slices.Clone(r.neighbors) }

// Send submits payload for delivery to router dest. The message enters the
// link addressed to this router, so forwarding happens on a later Tick.
func (r *Router) Send(ctx context.Context, dest int, payload any) error {
	msg := message.Data{Origin: r.id, Destination: dest, Payload: payload}
	if err := r.medium.Send(ctx, message.ChannelMessage{Destination: r.id, Payload: msg}); err != nil {
		return fmt.Errorf("router %d: %w", r.id, err)
	}
	return nil
}

// Fetch returns the next Data delivered to this router, if any.
func (r *Router) Fetch() (message.Data, bool) {
	return r.inbox.TryReceive()
}

// Ready signals after data was delivered to the local queue.
func (r *Router) Ready() <-chan struct{} {
	return r.inbox.Ready()
}

// InboxStats reports the local delivery queue counters.
func (r *Router) InboxStats() network.MailboxStats {
	return r.inbox.Stats()
}

// Snapshot returns the state published by the last tick.
func (r *Router) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view
}

// FirstHop returns the neighbor used to reach dest.
func (r *Router) FirstHop(dest int) (int, bool) {
	routes := r.Snapshot().Routes
	if routes == nil {
		return 0, false
	}
	return routes.Next(dest)
}

// Alive reports whether peer (a neighbor or the aggregator) is alive.
func (r *Router) Alive(peer int) bool {
	s := r.Snapshot()
	if peer == r.aggregator {
		return s.AggregatorAlive
	}
	_, ok := slices.BinarySearch(s.LiveNeighbors, peer)
	return ok
}

// AggregatorAlive reports whether the aggregator is alive.
func (r *Router) AggregatorAlive() bool {
	return r.Snapshot().AggregatorAlive
}

// Topology returns the cached topology, nil before the first DB.
func (r *Router) Topology() *mesh.Topology {
	return r.Snapshot().Topology
}

// Tick runs one protocol round.
func (r *Router) Tick(ctx context.Context, now time.Time) error {
	if err := r.sendHellos(ctx, now); err != nil {
		return err
	}
	if err := r.drain(ctx, now); err != nil {
		return err
	}
	if r.topology != nil && r.routes == nil {
		r.recompute()
	}
	r.updateLiveness(now)
	if err := r.sendControl(ctx, now); err != nil {
		return err
	}
	if r.viewDirty {
		r.publishView()
	}
	return nil
}

func (r *Router) sendHellos(ctx context.Context, now time.Time) error {
	hello := message.Hello{From: r.id}
	for _, id := range r.aggLive.DueHellos(now) {
		if err := r.send(ctx, id, hello); err != nil {
			return err
		}
	}
	for _, id := range r.neighLive.DueHellos(now) {
		if err := r.send(ctx, id, hello); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) drain(ctx context.Context, now time.Time) error {
	in := routerInbound{r: r, ctx: ctx, now: now}
	for in.err == nil {
		msg, err := r.medium.Receive(r.id)
		if errors.Is(err, network.ErrEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := message.Dispatch(msg, &in); err != nil {
			r.logger.Warn("ignoring message", zap.Error(err))
		}
	}
	return in.err
}

func (r *Router) recompute() {
	r.routes = mesh.ComputeFirstHops(r.topology, r.id)
	r.viewDirty = true
	r.logger.Debug("routes recomputed", zap.Stringer("routes", r.routes))
	r.events.Emit(eventBus.Event{
		Type:     eventBus.EventRoutesRecomputed,
		RouterID: r.id,
		Payload:  r.routes.String(),
	})
}

func (r *Router) updateLiveness(now time.Time) {
	flips := append(r.aggLive.Update(now), r.neighLive.Update(now)...)
	for _, f := range flips {
		r.viewDirty = true
		typ := eventBus.EventNeighborDown
		if f.Alive {
			typ = eventBus.EventNeighborUp
		}
		r.logger.Debug("peer liveness changed", zap.Int("peer", f.Peer), zap.Bool("alive", f.Alive))
		r.events.Emit(eventBus.Event{Type: typ, RouterID: r.id, PeerID: f.Peer})
	}
}

// sendControl sends a DB request or an LSA. Both share one throttle and
// nothing goes out while the aggregator is unreachable.
func (r *Router) sendControl(ctx context.Context, now time.Time) error {
	if !r.aggLive.Alive(r.aggregator) || !elapsed(r.lastControlSend, now, r.cfg.ResendInterval) {
		return nil
	}
	if r.pendingDBRequest {
		if err := r.send(ctx, r.aggregator, message.DBRequest{From: r.id}); err != nil {
			return err
		}
		r.lastControlSend = now
		r.events.Emit(eventBus.Event{Type: eventBus.EventDBRequested, RouterID: r.id, PeerID: r.aggregator})
		return nil
	}
	if r.topology == nil || !r.drifted() {
		return nil
	}
	live := r.neighLive.LiveSet()
	if err := r.send(ctx, r.aggregator, message.LSA{From: r.id, Neighbors: live}); err != nil {
		return err
	}
	r.lastControlSend = now
	r.logger.Debug("LSA sent", zap.Ints("neighbors", live))
	r.events.Emit(eventBus.Event{
		Type:     eventBus.EventLSASent,
		RouterID: r.id,
		PeerID:   r.aggregator,
		Payload:  fmt.Sprint(live),
	})
	return nil
}

// drifted reports whether some static neighbor's liveness disagrees with
// this router's row in the cached topology.
func (r *Router) drifted() bool {
	for _, n := range r.neighbors {
		if r.neighLive.Alive(n) != r.topology.HasLink(r.id, n) {
			return true
		}
	}
	return false
}

func (r *Router) forward(ctx context.Context, m message.Data) error {
	via, reason := r.nextHop(m.Destination)
	if reason != "" {
		r.logger.Debug("dropping data", zap.Int("origin", m.Origin), zap.Int("destination", m.Destination), zap.String("reason", reason))
		r.events.Emit(eventBus.Event{
			Type:     eventBus.EventForwardDropped,
			RouterID: r.id,
			PeerID:   m.Destination,
			Payload:  reason,
		})
		return nil
	}
	return r.send(ctx, via, m)
}

// nextHop returns the live static neighbor towards dest, or a non-empty
// reason why there is none.
func (r *Router) nextHop(dest int) (int, string) {
	if r.routes == nil {
		return 0, "no routing table"
	}
	via, ok := r.routes.Next(dest)
	if !ok {
		return 0, "destination unreachable"
	}
	if !slices.Contains(r.neighbors, via) {
		return 0, "first hop is not a neighbor"
	}
	if !r.neighLive.Alive(via) {
		return 0, "first hop is dead"
	}
	return via, ""
}

func (r *Router) deliver(m message.Data) {
	if !r.inbox.TrySend(m) {
		r.logger.Debug("local delivery queue full", zap.Int("origin", m.Origin))
		return
	}
	r.events.Emit(eventBus.Event{Type: eventBus.EventDataDelivered, RouterID: r.id, PeerID: m.Origin})
}

func (r *Router) adopt(m message.DB) {
	if m.Topology == nil {
		return
	}
	r.topology = m.Topology
	r.routes = nil
	r.pendingDBRequest = false
	r.viewDirty = true
	r.events.Emit(eventBus.Event{
		Type:     eventBus.EventTopologyAdopted,
		RouterID: r.id,
		PeerID:   m.From,
		Payload:  m.Topology.String(),
	})
}

func (r *Router) publishView() {
	v := Snapshot{
		ID:               r.id,
		AggregatorAlive:  r.aggLive.Alive(r.aggregator),
		LiveNeighbors:    r.neighLive.LiveSet(),
		PendingDBRequest: r.pendingDBRequest,
		Topology:         r.topology,
		Routes:           r.routes,
	}
	r.mu.Lock()
	r.view = v
	r.mu.Unlock()
	r.viewDirty = false
}

func (r *Router) send(ctx context.Context, to int, msg message.Message) error {
	if err := r.medium.Send(ctx, message.ChannelMessage{Destination: to, Payload: msg}); err != nil {
		return fmt.Errorf("router %d: %w", r.id, err)
	}
	return nil
}

// routerInbound handles the messages drained during one tick. The first
// send error stops the drain.
type routerInbound struct {
	r   *Router
	ctx context.Context
	now time.Time
	err error
}

func (in *routerInbound) HandleData(m message.Data) {
	if m.Destination == in.r.id {
		in.r.deliver(m)
		return
	}
	in.err = in.r.forward(in.ctx, m)
}

func (in *routerInbound) HandleHello(m message.Hello) {
	if m.From == in.r.aggregator {
		in.r.aggLive.Heard(m.From, in.now)
		return
	}
	in.r.neighLive.Heard(m.From, in.now)
}

func (in *routerInbound) HandleDB(m message.DB) {
	in.r.adopt(m)
}

func (in *routerInbound) HandleLSA(message.LSA) {}

func (in *routerInbound) HandleDBRequest(message.DBRequest) {}
