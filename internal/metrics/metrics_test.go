package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eb "ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/transport"
)

func TestSweepTables_Write(t *testing.T) {
	tables := NewSweepTables([]float64{0, 0.5}, []int{1, 2})
	tables.Record("SelectiveRepeat", 0, 0, transport.Result{Items: 10, Sent: 10, Elapsed: 2 * time.Second})
	tables.Record("SelectiveRepeat", 0, 1, transport.Result{Items: 10, Sent: 20, Elapsed: time.Second})
	tables.Record("SelectiveRepeat", 1, 0, transport.Result{Items: 10, Sent: 40, Elapsed: 500 * time.Millisecond})
	tables.Record("SelectiveRepeat", 1, 1, transport.Result{Items: 10, Sent: 8, Elapsed: 250 * time.Millisecond})

	var buf bytes.Buffer
	require.NoError(t, tables.Write(&buf))

	want := "SelectiveRepeat;1;2\n" +
		"0;1;0.5\n" +
		"0.5;0.25;1.25\n" +
		"SelectiveRepeat;1;2\n" +
		"0;2;1\n" +
		"0.5;0.5;0.25\n"
	assert.Equal(t, want, buf.String())
}

func TestSweepTables_PolicyOrderAndCells(t *testing.T) {
	tables := NewSweepTables([]float64{0}, []int{4})
	tables.Record("GoBackN", 0, 0, transport.Result{Sent: 3})
	tables.Record("SelectiveRepeat", 0, 0, transport.Result{Sent: 1})

	assert.Equal(t, []string{"GoBackN", "SelectiveRepeat"}, tables.Policies())
	res, ok := tables.Cell("GoBackN", 0, 0)
	require.True(t, ok)
	assert.Equal(t, 3, res.Sent)

	_, ok = tables.Cell("GoBackN", 1, 0)
	assert.False(t, ok)
	_, ok = tables.Cell("StopAndWait", 0, 0)
	assert.False(t, ok)
}

func TestCollector_CountsAndFlush(t *testing.T) {
	c := NewCollector()
	c.AddDelivered(eb.Event{Type: eb.EventDataDelivered})
	c.AddForwardDropped(eb.Event{Type: eb.EventForwardDropped, RouterID: 2})
	c.AddForwardDropped(eb.Event{Type: eb.EventForwardDropped, RouterID: 2})
	c.AddLivenessChange(eb.Event{Type: eb.EventNeighborUp})
	c.AddLivenessChange(eb.Event{Type: eb.EventNeighborDown})
	c.AddWindowTimeout()
	c.AddFlood()
	c.AddRouteRecompute()
	c.AddControlSent(eb.Event{Type: eb.EventLSASent})
	run := Run{RunID: uuid.New(), Loss: 0.1, Result: transport.Result{Items: 5, Sent: 6}}
	c.AddRun(run)

	snap := c.Snapshot()
	assert.Equal(t, uint64(1), snap.TotalDelivered)
	assert.Equal(t, uint64(2), snap.DroppedByRouter[2])
	assert.Equal(t, uint64(1), snap.NeighborUp)
	assert.Equal(t, uint64(1), snap.NeighborDown)
	require.Len(t, snap.Runs, 1)

	file := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, c.Flush(file))
	raw, err := os.ReadFile(file)
	require.NoError(t, err)

	var decoded Counters
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, uint64(2), decoded.TotalForwardDropped)
	assert.Equal(t, run.RunID, decoded.Runs[0].RunID)
	assert.Equal(t, 6, decoded.Runs[0].Result.Sent)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.AddDelivered(eb.Event{})
	c.AddForwardDropped(eb.Event{})
	c.AddWindowTimeout()
	c.AddRun(Run{})
}
