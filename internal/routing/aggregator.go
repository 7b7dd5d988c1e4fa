package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/liveness"
	"ospf-simulation/internal/mesh"
	"ospf-simulation/internal/message"
	"ospf-simulation/internal/network"
)

// Aggregator is the designated router. It collects LSAs into the
// authoritative topology and floods it to every router when it changes.
type Aggregator struct {
	id      int
	routers int
	medium  Medium
	cfg     Config

	hellos    *liveness.Tracker
	topology  *mesh.Topology
	needSend  bool
	lastFlood time.Time
	floods    int

	logger *zap.Logger
	events eventBus.Emitter
}

// NewAggregator creates the aggregator at endpoint id serving routers
// 0..routers-1. The id must lie outside the router range.
func NewAggregator(id, routers int, medium Medium, cfg Config, opts ...Option) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if routers < 1 {
		return nil, fmt.Errorf("invalid config: aggregator needs at least one router, got %d", routers)
	}
	if id >= 0 && id < routers {
		return nil, fmt.Errorf("invalid config: aggregator id %d collides with a router", id)
	}
	o := buildOptions(opts)

	peers := make([]int, routers)
	for i := range peers {
		peers[i] = i
	}
	return &Aggregator{
		id:       id,
		routers:  routers,
		medium:   medium,
		cfg:      cfg,
		hellos:   liveness.New(peers, cfg.liveness()),
		topology: mesh.NewTopology(routers),
		logger:   o.logger.With(zap.Int("aggregator", id)),
		events:   o.events,
	}, nil
}

// ID returns the aggregator's endpoint id.
func (a *Aggregator) ID() int { return a.id }

// Topology returns the current authoritative snapshot.
func (a *Aggregator) Topology() *mesh.Topology { return a.topology }

// Floods returns how many times the topology has been flooded.
func (a *Aggregator) Floods() int { return a.floods }

// Tick runs one round: hellos, inbound drain, then a flood if one is due.
func (a *Aggregator) Tick(ctx context.Context, now time.Time) error {
	for _, id := range a.hellos.DueHellos(now) {
		if err := a.send(ctx, id, message.Hello{From: a.id}); err != nil {
			return err
		}
	}

	in := aggregatorInbound{a: a, now: now}
	for {
		msg, err := a.medium.Receive(a.id)
		if errors.Is(err, network.ErrEmpty) {
			break
		}
		if err != nil {
			return err
		}
		if err := message.Dispatch(msg, &in); err != nil {
			a.logger.Warn("ignoring message", zap.Error(err))
		}
	}

	return a.flood(ctx, now)
}

func (a *Aggregator) flood(ctx context.Context, now time.Time) error {
	if !a.needSend || !elapsed(a.lastFlood, now, a.cfg.ResendInterval) {
		return nil
	}
	snapshot := a.topology
	for id := 0; id < a.routers; id++ {
		if err := a.send(ctx, id, message.DB{From: a.id, Topology: snapshot}); err != nil {
			return err
		}
	}
	a.lastFlood = now
	a.needSend = false
	a.floods++

	a.logger.Debug("topology flooded", zap.Stringer("topology", snapshot), zap.Int("floods", a.floods))
	a.events.Emit(eventBus.Event{
		Type:     eventBus.EventTopologyFlooded,
		RouterID: a.id,
		Payload:  snapshot.String(),
	})
	return nil
}

func (a *Aggregator) send(ctx context.Context, to int, msg message.Message) error {
	if err := a.medium.Send(ctx, message.ChannelMessage{Destination: to, Payload: msg}); err != nil {
		return fmt.Errorf("aggregator %d: %w", a.id, err)
	}
	return nil
}

// aggregatorInbound handles the messages drained during one tick.
type aggregatorInbound struct {
	a   *Aggregator
	now time.Time
}

func (in *aggregatorInbound) HandleHello(m message.Hello) {
	in.a.hellos.Heard(m.From, in.now)
}

func (in *aggregatorInbound) HandleLSA(m message.LSA) {
	a := in.a
	if m.From < 0 || m.From >= a.routers {
		a.logger.Debug("LSA from unknown router", zap.Int("from", m.From))
		return
	}
	if !a.topology.Differs(m.From, m.Neighbors) {
		return
	}
	a.topology = a.topology.WithNeighbors(m.From, m.Neighbors)
	a.needSend = true

	a.logger.Debug("LSA applied", zap.Int("from", m.From), zap.Ints("neighbors", m.Neighbors))
	a.events.Emit(eventBus.Event{
		Type:     eventBus.EventLSAReceived,
		RouterID: a.id,
		PeerID:   m.From,
		Payload:  fmt.Sprint(m.Neighbors),
	})
}

func (in *aggregatorInbound) HandleDBRequest(m message.DBRequest) {
	in.a.needSend = true
}

func (in *aggregatorInbound) HandleData(message.Data) {}

func (in *aggregatorInbound) HandleDB(message.DB) {}
