package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"ospf-simulation/internal/network"
	"ospf-simulation/internal/routing"
	"ospf-simulation/internal/transport"
)

// TopologyCfg lists each router's static neighbors. Routers are numbered by
// position; the aggregator takes the next id.
type TopologyCfg struct {
	Neighbors [][]int `yaml:"neighbors" json:"neighbors"`
	Sender    int     `yaml:"sender" json:"sender"`
	Receiver  int     `yaml:"receiver" json:"receiver"`
}

type LinkCfg struct {
	Delay           time.Duration `yaml:"delay" json:"delay"`
	LossProbability float64       `yaml:"loss_probability" json:"loss_probability"`
	QueueCapacity   int           `yaml:"queue_capacity" json:"queue_capacity"`
	DelayModel      string        `yaml:"delay_model" json:"delay_model"` // head_of_line | per_destination
	Seed            uint64        `yaml:"seed" json:"seed"`               // 0 draws from the global source
}

type RoutingCfg struct {
	HelloInterval  time.Duration `yaml:"hello_interval" json:"hello_interval"`
	DeadInterval   time.Duration `yaml:"dead_interval" json:"dead_interval"`
	ResendInterval time.Duration `yaml:"resend_interval" json:"resend_interval"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	QueueCapacity  int           `yaml:"queue_capacity" json:"queue_capacity"`
}

type TransferCfg struct {
	Items   int           `yaml:"items" json:"items"`
	Window  int           `yaml:"window" json:"window"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Policy  string        `yaml:"policy" json:"policy"`

	// WarmUp bounds the wait for a routed path between sender and receiver
	// before the transfer starts. Zero starts immediately.
	WarmUp time.Duration `yaml:"warm_up" json:"warm_up"`
}

type SweepCfg struct {
	Policies []string  `yaml:"policies" json:"policies"`
	Losses   []float64 `yaml:"losses" json:"losses"`
	Windows  []int     `yaml:"windows" json:"windows"`
}

// ChurnEvent silences or revives one actor At after the run starts.
type ChurnEvent struct {
	At     time.Duration `yaml:"at" json:"at"`
	Node   int           `yaml:"node" json:"node"`
	Action string        `yaml:"action" json:"action"` // suspend | resume
}

type LogCfg struct {
	Level       string `yaml:"level" json:"level"`
	File        string `yaml:"file" json:"file"`
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`
}

type MQTTCfg struct {
	Broker string `yaml:"broker" json:"broker"`
	Topic  string `yaml:"topic" json:"topic"`
	Format string `yaml:"format" json:"format"` // json | msgpack
}

type Scenario struct {
	Name     string       `yaml:"name" json:"name"`
	Topology TopologyCfg  `yaml:"topology" json:"topology"`
	Link     LinkCfg      `yaml:"link" json:"link"`
	Routing  RoutingCfg   `yaml:"routing" json:"routing"`
	Transfer TransferCfg  `yaml:"transfer" json:"transfer"`
	Sweep    SweepCfg     `yaml:"sweep" json:"sweep"`
	Churn    []ChurnEvent `yaml:"churn" json:"churn"`
	Logging  LogCfg       `yaml:"logging" json:"logging"`
	MQTT     MQTTCfg      `yaml:"mqtt" json:"mqtt"`
}

// DefaultScenario is the reference experiment: sender 0 and receiver 1 joined
// through relays 2..6, aggregator 7.
func DefaultScenario() *Scenario {
	rc := routing.DefaultConfig()
	return &Scenario{
		Name: "relay",
		Topology: TopologyCfg{
			Neighbors: [][]int{
				{2, 3, 4, 5, 6},
				{2, 3, 4, 5, 6},
				{0, 1}, {0, 1}, {0, 1}, {0, 1}, {0, 1},
			},
			Sender:   0,
			Receiver: 1,
		},
		Link: LinkCfg{
			QueueCapacity: network.DefaultConfig().QueueCapacity,
			DelayModel:    network.HeadOfLine.String(),
		},
		Routing: RoutingCfg{
			HelloInterval:  rc.HelloInterval,
			DeadInterval:   rc.DeadInterval,
			ResendInterval: rc.ResendInterval,
			PollInterval:   rc.PollInterval,
			QueueCapacity:  rc.QueueCapacity,
		},
		Transfer: TransferCfg{
			Items:   1000,
			Window:  1,
			Timeout: 10 * time.Millisecond,
			Policy:  transport.SelectiveRepeat.Name(),
			WarmUp:  5 * time.Second,
		},
		Sweep: SweepCfg{
			Policies: []string{transport.SelectiveRepeat.Name()},
			Losses:   []float64{0, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64},
			Windows:  []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
		Logging: LogCfg{
			Level:       "info",
			MetricsFile: "metrics.json",
		},
		MQTT: MQTTCfg{
			Topic:  "ospf-simulation",
			Format: "json",
		},
	}
}

// LoadScenario reads a YAML scenario, falling back to JSON. Omitted fields
// keep their DefaultScenario values.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc := DefaultScenario()
	if yerr := yaml.Unmarshal(f, sc); yerr != nil {
		// fallback JSON
		sc = DefaultScenario()
		if err := json.Unmarshal(f, sc); err != nil {
			return nil, fmt.Errorf("scenario %s is neither YAML (%v) nor JSON: %w", path, yerr, err)
		}
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Routers returns the number of routers.
func (s *Scenario) Routers() int { return len(s.Topology.Neighbors) }

// AggregatorID returns the aggregator's endpoint id.
func (s *Scenario) AggregatorID() int { return len(s.Topology.Neighbors) }

// Endpoints returns the number of link endpoints, routers plus aggregator.
func (s *Scenario) Endpoints() int { return len(s.Topology.Neighbors) + 1 }

// RoutingConfig returns the protocol timings.
func (s *Scenario) RoutingConfig() routing.Config {
	return routing.Config{
		HelloInterval:  s.Routing.HelloInterval,
		DeadInterval:   s.Routing.DeadInterval,
		ResendInterval: s.Routing.ResendInterval,
		PollInterval:   s.Routing.PollInterval,
		QueueCapacity:  s.Routing.QueueCapacity,
	}
}

// LinkConfig returns the link settings with the given loss probability.
func (s *Scenario) LinkConfig(loss float64) (network.Config, error) {
	model, err := network.ParseDelayModel(s.Link.DelayModel)
	if err != nil {
		return network.Config{}, err
	}
	return network.Config{
		Delay:           s.Link.Delay,
		LossProbability: loss,
		QueueCapacity:   s.Link.QueueCapacity,
		DelayModel:      model,
	}, nil
}

// SweepConfig resolves the sweep section against the transfer defaults.
func (s *Scenario) SweepConfig() (SweepConfig, error) {
	cfg := SweepConfig{
		Losses:  slices.Clone(s.Sweep.Losses),
		Windows: slices.Clone(s.Sweep.Windows),
		Items:   s.Transfer.Items,
		Timeout: s.Transfer.Timeout,
	}
	for _, name := range s.Sweep.Policies {
		p, err := transport.ParsePolicy(name)
		if err != nil {
			return SweepConfig{}, err
		}
		cfg.Policies = append(cfg.Policies, p)
	}
	return cfg, cfg.Validate()
}

// Validate checks the topology, the embedded configs and the churn plan.
func (s *Scenario) Validate() error {
	n := s.Routers()
	if n == 0 {
		return fmt.Errorf("topology has no routers")
	}
	for id, row := range s.Topology.Neighbors {
		for _, nb := range row {
			if nb < 0 || nb >= n || nb == id {
				return fmt.Errorf("router %d: invalid neighbor %d", id, nb)
			}
		}
	}
	if !inRange(s.Topology.Sender, n) || !inRange(s.Topology.Receiver, n) {
		return fmt.Errorf("sender %d and receiver %d must be routers in [0, %d)", s.Topology.Sender, s.Topology.Receiver, n)
	}
	if s.Topology.Sender == s.Topology.Receiver {
		return fmt.Errorf("sender and receiver must differ, both are %d", s.Topology.Sender)
	}

	linkCfg, err := s.LinkConfig(s.Link.LossProbability)
	if err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if err := linkCfg.Validate(); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if err := s.RoutingConfig().Validate(); err != nil {
		return fmt.Errorf("routing: %w", err)
	}
	if _, err := transport.ParsePolicy(s.Transfer.Policy); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if s.Transfer.WarmUp < 0 {
		return fmt.Errorf("transfer: negative warm up %v", s.Transfer.WarmUp)
	}

	for i, ev := range s.Churn {
		if !inRange(ev.Node, s.Endpoints()) {
			return fmt.Errorf("churn[%d]: unknown node %d", i, ev.Node)
		}
		if ev.Action != ActionSuspend && ev.Action != ActionResume {
			return fmt.Errorf("churn[%d]: unknown action %q", i, ev.Action)
		}
		if ev.At < 0 {
			return fmt.Errorf("churn[%d]: negative offset %v", i, ev.At)
		}
	}
	return nil
}

const (
	ActionSuspend = "suspend"
	ActionResume  = "resume"
)

func inRange(id, n int) bool { return id >= 0 && id < n }
