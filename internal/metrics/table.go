package metrics

import (
	"encoding/csv"
	"io"
	"slices"
	"strconv"

	"ospf-simulation/internal/transport"
)

// SweepTables holds one result per (policy, loss, window) cell.
type SweepTables struct {
	Losses  []float64
	Windows []int

	policies []string
	cells    map[string][][]transport.Result
}

// NewSweepTables creates empty tables for the given axes.
func NewSweepTables(losses []float64, windows []int) *SweepTables {
	return &SweepTables{
		Losses:  slices.Clone(losses),
		Windows: slices.Clone(windows),
		cells:   make(map[string][][]transport.Result),
	}
}

// Record stores res at row li (loss) and column wi (window) of policy.
func (t *SweepTables) Record(policy string, li, wi int, res transport.Result) {
	grid, ok := t.cells[policy]
	if !ok {
		grid = make([][]transport.Result, len(t.Losses))
		for i := range grid {
			grid[i] = make([]transport.Result, len(t.Windows))
		}
		t.cells[policy] = grid
		t.policies = append(t.policies, policy)
	}
	grid[li][wi] = res
}

// Policies returns the recorded policies in first-seen order.
func (t *SweepTables) Policies() []string {
	return slices.Clone(t.policies)
}

// Cell returns the result stored for policy at (li, wi).
func (t *SweepTables) Cell(policy string, li, wi int) (transport.Result, bool) {
	grid, ok := t.cells[policy]
	if !ok || li < 0 || li >= len(grid) || wi < 0 || wi >= len(grid[li]) {
		return transport.Result{}, false
	}
	return grid[li][wi], true
}

// Write prints, per policy, an efficiency table followed by an elapsed
// seconds table. Each starts with "<policy>;<w1>;<w2>..." and has one row per
// loss probability.
func (t *SweepTables) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	for _, policy := range t.policies {
		if err := t.writeTable(cw, policy, transport.Result.Efficiency); err != nil {
			return err
		}
		elapsed := func(r transport.Result) float64 { return r.Elapsed.Seconds() }
		if err := t.writeTable(cw, policy, elapsed); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (t *SweepTables) writeTable(cw *csv.Writer, policy string, value func(transport.Result) float64) error {
	header := []string{policy}
	for _, win := range t.Windows {
		header = append(header, strconv.Itoa(win))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for li, loss := range t.Losses {
		row := []string{formatFloat(loss)}
		for _, res := range t.cells[policy][li] {
			row = append(row, formatFloat(value(res)))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
