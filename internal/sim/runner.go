package sim

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	eb "ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/metrics"
	"ospf-simulation/internal/network"
	"ospf-simulation/internal/node"
	"ospf-simulation/internal/routing"
	"ospf-simulation/internal/transport"
)

// ErrNoRun is returned by control calls made while no simulation is running.
var ErrNoRun = errors.New("no simulation running")

// RunParams selects one point of the experiment grid.
type RunParams struct {
	Items   int
	Window  int
	Timeout time.Duration
	Loss    float64
	Policy  transport.Policy
}

// Runner builds and runs simulations for one scenario. Runs are sequential;
// the node set of the active run is reachable for control and status calls.
type Runner struct {
	sc     *Scenario
	bus    *eb.EventBus
	coll   *metrics.Collector
	logger *zap.Logger

	mu      sync.RWMutex
	runID   uuid.UUID
	nodes   []*node.Node
	routers []*routing.Router
}

// NewRunner returns a runner for sc. bus, coll and logger may be nil.
func NewRunner(sc *Scenario, bus *eb.EventBus, coll *metrics.Collector, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{sc: sc, bus: bus, coll: coll, logger: logger}
}

// StartSimulation runs one transfer of dataSize items over a fresh network
// built from sc, using the scenario's loss probability and repeat policy.
func StartSimulation(ctx context.Context, sc *Scenario, dataSize, windowSize int, timeout time.Duration) (transport.Result, error) {
	policy, err := transport.ParsePolicy(sc.Transfer.Policy)
	if err != nil {
		return transport.Result{}, err
	}
	run, err := NewRunner(sc, nil, nil, nil).Run(ctx, RunParams{
		Items:   dataSize,
		Window:  windowSize,
		Timeout: timeout,
		Loss:    sc.Link.LossProbability,
		Policy:  policy,
	})
	return run.Result, err
}

// DefaultParams returns the transfer section of the scenario as RunParams.
func (r *Runner) DefaultParams() (RunParams, error) {
	policy, err := transport.ParsePolicy(r.sc.Transfer.Policy)
	if err != nil {
		return RunParams{}, err
	}
	return RunParams{
		Items:   r.sc.Transfer.Items,
		Window:  r.sc.Transfer.Window,
		Timeout: r.sc.Transfer.Timeout,
		Loss:    r.sc.Link.LossProbability,
		Policy:  policy,
	}, nil
}

// Run starts every actor on a fresh link, waits for the sender to finish,
// stops the rest and returns the outcome.
func (r *Runner) Run(ctx context.Context, p RunParams) (metrics.Run, error) {
	if err := r.sc.Validate(); err != nil {
		return metrics.Run{}, fmt.Errorf("invalid scenario: %w", err)
	}
	runID := uuid.New()
	logger := r.logger.With(zap.String("run", runID.String()))
	em := eb.Emitter{Bus: r.bus, RunID: runID}
	out := metrics.Run{RunID: runID, Loss: p.Loss}

	stopCollect := r.collect()
	defer stopCollect()

	link, agg, routers, err := r.build(p.Loss, logger, em)
	if err != nil {
		return out, err
	}
	rcfg := r.sc.RoutingConfig()

	sender, err := transport.NewSender(routers[r.sc.Topology.Sender], transport.SenderConfig{
		Items:        p.Items,
		Window:       p.Window,
		Timeout:      p.Timeout,
		Peer:         r.sc.Topology.Receiver,
		Policy:       p.Policy,
		PollInterval: rcfg.PollInterval,
	}, transport.WithLogger(logger), transport.WithEvents(em))
	if err != nil {
		return out, err
	}
	receiver, err := transport.NewReceiver(routers[r.sc.Topology.Receiver], rcfg.PollInterval, transport.WithLogger(logger))
	if err != nil {
		return out, err
	}

	nodes := make([]*node.Node, 0, len(routers)+1)
	for _, rt := range routers {
		nodes = append(nodes, node.New(rt.ID(), rt, rcfg.PollInterval,
			node.WithLogger(logger), node.WithEvents(em), node.WithWake(link.Ready(rt.ID()))))
	}
	nodes = append(nodes, node.New(agg.ID(), agg, rcfg.PollInterval,
		node.WithLogger(logger), node.WithEvents(em), node.WithWake(link.Ready(agg.ID()))))
	r.attach(runID, nodes, routers)
	defer r.detach()

	logger.Info("run started",
		zap.String("policy", p.Policy.Name()),
		zap.Int("items", p.Items),
		zap.Int("window", p.Window),
		zap.Float64("loss", p.Loss))
	em.Emit(eb.Event{Type: eb.EventRunStarted, RouterID: r.sc.Topology.Sender, PeerID: r.sc.Topology.Receiver})

	actorsCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(actorsCtx)

	g.Go(func() error { return link.Run(gctx, rcfg.PollInterval) })
	for _, n := range nodes {
		g.Go(func() error { return n.Run(gctx) })
	}
	g.Go(func() error { return receiver.Run(gctx) })
	g.Go(func() error { return r.churn(gctx, nodes) })

	var res transport.Result
	g.Go(func() error {
		defer stop()
		if err := r.awaitRoutes(gctx, routers, logger); err != nil {
			return err
		}
		var err error
		res, err = sender.Run(gctx)
		return err
	})

	err = g.Wait()
	out.Result = res
	out.Link = link.Stats()
	if err != nil {
		logger.Warn("run aborted", zap.Error(err))
		return out, err
	}

	logger.Info("run finished",
		zap.Int("sent", res.Sent),
		zap.Int("timeouts", res.Timeouts),
		zap.Float64("efficiency", res.Efficiency()),
		zap.Duration("elapsed", res.Elapsed),
		zap.Uint64("link_lost", out.Link.Lost))
	em.Emit(eb.Event{
		Type:     eb.EventRunFinished,
		RouterID: r.sc.Topology.Sender,
		PeerID:   r.sc.Topology.Receiver,
		Payload:  fmt.Sprintf("sent=%d timeouts=%d elapsed=%s", res.Sent, res.Timeouts, res.Elapsed),
	})
	r.coll.AddRun(out)
	return out, nil
}

func (r *Runner) build(loss float64, logger *zap.Logger, em eb.Emitter) (*network.Link, *routing.Aggregator, []*routing.Router, error) {
	linkCfg, err := r.sc.LinkConfig(loss)
	if err != nil {
		return nil, nil, nil, err
	}
	linkOpts := []network.Option{network.WithLogger(logger)}
	if seed := r.sc.Link.Seed; seed != 0 {
		rng := rand.New(rand.NewPCG(seed, seed))
		linkOpts = append(linkOpts, network.WithRand(rng.Float64))
	}
	link, err := network.NewLink(r.sc.Endpoints(), linkCfg, linkOpts...)
	if err != nil {
		return nil, nil, nil, err
	}

	rcfg := r.sc.RoutingConfig()
	aggID := r.sc.AggregatorID()
	agg, err := routing.NewAggregator(aggID, r.sc.Routers(), link, rcfg, routing.WithLogger(logger), routing.WithEvents(em))
	if err != nil {
		return nil, nil, nil, err
	}
	routers := make([]*routing.Router, r.sc.Routers())
	for id, neighbors := range r.sc.Topology.Neighbors {
		routers[id], err = routing.NewRouter(id, aggID, neighbors, link, rcfg, routing.WithLogger(logger), routing.WithEvents(em))
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return link, agg, routers, nil
}

// awaitRoutes waits, at most WarmUp, until sender and receiver can reach
// each other through live first hops.
func (r *Runner) awaitRoutes(ctx context.Context, routers []*routing.Router, logger *zap.Logger) error {
	warmUp := r.sc.Transfer.WarmUp
	if warmUp <= 0 {
		return nil
	}
	from, to := r.sc.Topology.Sender, r.sc.Topology.Receiver
	deadline := time.NewTimer(warmUp)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	for {
		if pathReady(routers, from, to) && pathReady(routers, to, from) {
			logger.Debug("routes converged", zap.Duration("after", time.Since(start)))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			logger.Warn("routes not converged, starting transfer anyway", zap.Duration("warm_up", warmUp))
			return nil
		case <-ticker.C:
		}
	}
}

// pathReady follows first hops from one router to another and reports
// whether every hop is known and alive.
func pathReady(routers []*routing.Router, from, to int) bool {
	cur := from
	for range routers {
		if cur == to {
			return true
		}
		hop, ok := routers[cur].FirstHop(to)
		if !ok || hop == cur || !routers[cur].Alive(hop) {
			return false
		}
		cur = hop
	}
	return cur == to
}

// churn applies the scenario's suspend/resume plan relative to now.
func (r *Runner) churn(ctx context.Context, nodes []*node.Node) error {
	plan := slices.Clone(r.sc.Churn)
	slices.SortStableFunc(plan, func(a, b ChurnEvent) int { return cmp.Compare(a.At, b.At) })

	start := time.Now()
	for _, ev := range plan {
		timer := time.NewTimer(time.Until(start.Add(ev.At)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		n := nodes[slices.IndexFunc(nodes, func(n *node.Node) bool { return n.ID() == ev.Node })]
		if ev.Action == ActionSuspend {
			n.Suspend()
		} else {
			n.Resume()
		}
	}
	return nil
}

// collect feeds bus events to the collector until the returned func is
// called. The func waits for the backlog to drain.
func (r *Runner) collect() func() {
	if r.bus == nil || r.coll == nil {
		return func() {}
	}
	sub := r.bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.consumeEvents(sub)
	}()
	return func() {
		r.bus.Unsubscribe(sub)
		<-done
	}
}

func (r *Runner) consumeEvents(ch chan eb.Event) {
	for ev := range ch {
		switch ev.Type {
		case eb.EventDataDelivered:
			r.coll.AddDelivered(ev)
		case eb.EventForwardDropped:
			r.coll.AddForwardDropped(ev)
		case eb.EventWindowTimeout:
			r.coll.AddWindowTimeout()
		case eb.EventTopologyFlooded:
			r.coll.AddFlood()
		case eb.EventLSASent, eb.EventDBRequested:
			r.coll.AddControlSent(ev)
		case eb.EventRoutesRecomputed:
			r.coll.AddRouteRecompute()
		case eb.EventNeighborUp, eb.EventNeighborDown:
			r.coll.AddLivenessChange(ev)
		}
	}
}

func (r *Runner) attach(runID uuid.UUID, nodes []*node.Node, routers []*routing.Router) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = runID
	r.nodes = nodes
	r.routers = routers
}

func (r *Runner) detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = uuid.Nil
	r.nodes = nil
	r.routers = nil
}

// Suspend silences node id in the active run.
func (r *Runner) Suspend(id int) error {
	n, err := r.node(id)
	if err != nil {
		return err
	}
	n.Suspend()
	return nil
}

// Resume revives node id in the active run.
func (r *Runner) Resume(id int) error {
	n, err := r.node(id)
	if err != nil {
		return err
	}
	n.Resume()
	return nil
}

func (r *Runner) node(id int) (*node.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.nodes == nil {
		return nil, ErrNoRun
	}
	for _, n := range r.nodes {
		if n.ID() == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("unknown node %d", id)
}

// RouterStatus is the public view of one router.
type RouterStatus struct {
	node.Status
	AggregatorAlive bool   `json:"aggregator_alive"`
	LiveNeighbors   []int  `json:"live_neighbors"`
	Topology        string `json:"topology,omitempty"`
	Routes          string `json:"routes,omitempty"`
}

// Status describes the active run.
type Status struct {
	RunID   uuid.UUID      `json:"run_id"`
	Running bool           `json:"running"`
	Routers []RouterStatus `json:"routers"`
	Nodes   []node.Status  `json:"nodes"`
}

// Status returns the state of the active run, if any.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Status{RunID: r.runID, Running: r.nodes != nil}
	for _, n := range r.nodes {
		st.Nodes = append(st.Nodes, n.Status())
	}
	for i, rt := range r.routers {
		snap := rt.Snapshot()
		rs := RouterStatus{
			Status:          r.nodes[i].Status(),
			AggregatorAlive: snap.AggregatorAlive,
			LiveNeighbors:   snap.LiveNeighbors,
		}
		if snap.Topology != nil {
			rs.Topology = snap.Topology.String()
		}
		if snap.Routes != nil {
			rs.Routes = snap.Routes.String()
		}
		st.Routers = append(st.Routers, rs)
	}
	return st
}
