package sim

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ospf-simulation/internal/metrics"
	"ospf-simulation/internal/transport"
)

// SweepConfig is the experiment grid: every policy is run for every loss
// probability and window size.
type SweepConfig struct {
	Policies []transport.Policy
	Losses   []float64
	Windows  []int
	Items    int
	Timeout  time.Duration
}

// Validate checks the grid is non-empty and in range.
func (c SweepConfig) Validate() error {
	if len(c.Policies) == 0 || len(c.Losses) == 0 || len(c.Windows) == 0 {
		return fmt.Errorf("sweep needs at least one policy, loss and window")
	}
	for _, l := range c.Losses {
		if l < 0 || l > 1 {
			return fmt.Errorf("loss probability must be within [0, 1], got %v", l)
		}
	}
	for _, w := range c.Windows {
		if w < 1 {
			return fmt.Errorf("window must be at least 1, got %d", w)
		}
	}
	return nil
}

// Sweep runs the whole grid for sc and returns the result tables.
func Sweep(ctx context.Context, sc *Scenario, cfg SweepConfig) (*metrics.SweepTables, error) {
	return NewRunner(sc, nil, nil, nil).Sweep(ctx, cfg, nil)
}

// Sweep runs the grid one simulation at a time, each on a fresh network.
// onRun, if set, sees every finished run.
func (r *Runner) Sweep(ctx context.Context, cfg SweepConfig, onRun func(policy string, run metrics.Run)) (*metrics.SweepTables, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	tables := metrics.NewSweepTables(cfg.Losses, cfg.Windows)
	for _, policy := range cfg.Policies {
		for li, loss := range cfg.Losses {
			for wi, window := range cfg.Windows {
				r.logger.Info("sweep point",
					zap.String("policy", policy.Name()),
					zap.Float64("loss", loss),
					zap.Int("window", window))
				run, err := r.Run(ctx, RunParams{
					Items:   cfg.Items,
					Window:  window,
					Timeout: cfg.Timeout,
					Loss:    loss,
					Policy:  policy,
				})
				if err != nil {
					return tables, fmt.Errorf("%s loss=%v window=%d: %w", policy.Name(), loss, window, err)
				}
				tables.Record(policy.Name(), li, wi, run.Result)
				if onRun != nil {
					onRun(policy.Name(), run)
				}
			}
		}
	}
	return tables, nil
}
