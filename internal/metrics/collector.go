package metrics

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/google/uuid"

	eb "ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/network"
	"ospf-simulation/internal/transport"
)

// Run is the outcome of one simulation.
type Run struct {
	RunID  uuid.UUID        `json:"run_id" msgpack:"run_id"`
	Loss   float64          `json:"loss" msgpack:"loss"`
	Result transport.Result `json:"result" msgpack:"result"`
	Link   network.Stats    `json:"link" msgpack:"link"`
}

type Counters struct {
	TotalDelivered      uint64         `json:"total_delivered"`
	TotalForwardDropped uint64         `json:"total_forward_dropped"`
	DroppedByRouter     map[int]uint64 `json:"forward_dropped_by_router"`
	TotalControlSent    uint64         `json:"total_control_sent"`
	WindowTimeouts      uint64         `json:"window_timeouts"`
	TopologyFloods      uint64         `json:"topology_floods"`
	RouteRecomputes     uint64         `json:"route_recomputes"`
	NeighborUp          uint64         `json:"neighbor_up"`
	NeighborDown        uint64         `json:"neighbor_down"`
	Runs                []Run          `json:"runs"`
}

// Collector aggregates counters from the event stream and finished runs.
// A nil *Collector ignores every call.
type Collector struct {
	mu sync.Mutex
	Counters
}

func NewCollector() *Collector {
	return &Collector{Counters: Counters{DroppedByRouter: make(map[int]uint64)}}
}

func (c *Collector) AddDelivered(ev eb.Event) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.TotalDelivered++
	c.mu.Unlock()
}

func (c *Collector) AddForwardDropped(ev eb.Event) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TotalForwardDropped++
	c.DroppedByRouter[ev.RouterID]++
}

func (c *Collector) AddControlSent(ev eb.Event) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.TotalControlSent++
	c.mu.Unlock()
}

func (c *Collector) AddWindowTimeout() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.WindowTimeouts++
	c.mu.Unlock()
}

func (c *Collector) AddFlood() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.TopologyFloods++
	c.mu.Unlock()
}

func (c *Collector) AddRouteRecompute() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.RouteRecomputes++
	c.mu.Unlock()
}

func (c *Collector) AddLivenessChange(ev eb.Event) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Type == eb.EventNeighborUp {
		c.NeighborUp++
	} else {
		c.NeighborDown++
	}
}

func (c *Collector) AddRun(run Run) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.Runs = append(c.Runs, run)
	c.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (c *Collector) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.Counters
	out.DroppedByRouter = make(map[int]uint64, len(c.DroppedByRouter))
	for k, v := range c.DroppedByRouter {
		out.DroppedByRouter[k] = v
	}
	out.Runs = append([]Run(nil), c.Runs...)
	return out
}

// Flush writes the counters to file as indented JSON.
func (c *Collector) Flush(file string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c.Counters)
}
