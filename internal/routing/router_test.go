package routing

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/mesh"
	"ospf-simulation/internal/message"
	"ospf-simulation/internal/network"
)

// Router 0 with neighbors 1 and 2, aggregator 3.
func newTestRouter(t *testing.T, opts ...Option) (*Router, *fakeMedium) {
	t.Helper()
	medium := newFakeMedium()
	r, err := NewRouter(0, 3, []int{1, 2}, medium, DefaultConfig(), opts...)
	require.NoError(t, err)
	return r, medium
}

var triangle = mesh.FromAdjacency([][]int{{1, 2}, {0, 2}, {0, 1}})

// converge brings the test router to a state where every peer is alive and
// the triangle topology is adopted.
func converge(t *testing.T, r *Router, medium *fakeMedium) {
	t.Helper()
	medium.queue(0,
		message.Hello{From: 3},
		message.Hello{From: 1},
		message.Hello{From: 2},
		message.DB{From: 3, Topology: triangle},
	)
	require.NoError(t, r.Tick(context.Background(), at(0)))
	medium.take()
}

func TestNewRouter_Validation(t *testing.T) {
	medium := newFakeMedium()
	_, err := NewRouter(0, 0, nil, medium, DefaultConfig())
	assert.Error(t, err)
	_, err = NewRouter(0, 3, []int{1, 0}, medium, DefaultConfig())
	assert.Error(t, err)
	_, err = NewRouter(0, 3, []int{3}, medium, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.ResendInterval = 0
	_, err = NewRouter(0, 3, []int{1}, medium, cfg)
	assert.ErrorContains(t, err, "invalid config")
}

func TestRouter_FirstTickSendsHellosOnly(t *testing.T) {
	r, medium := newTestRouter(t)

	require.NoError(t, r.Tick(context.Background(), at(0)))
	sent := medium.take()
	assert.Equal(t, []int{3, 1, 2}, destinations(sent))
	assert.Len(t, ofKind(sent, message.KindHello), 3)

	s := r.Snapshot()
	assert.True(t, s.PendingDBRequest)
	assert.False(t, s.AggregatorAlive, "no DB request while the aggregator is unknown")
	assert.Nil(t, s.Topology)
}

func TestRouter_DBRequestThrottled(t *testing.T) {
	r, medium := newTestRouter(t)
	ctx := context.Background()

	medium.queue(0, message.Hello{From: 3})
	require.NoError(t, r.Tick(ctx, at(0)))
	reqs := ofKind(medium.take(), message.KindDBRequest)
	require.Len(t, reqs, 1)
	assert.Equal(t, 3, reqs[0].Destination)
	assert.True(t, r.AggregatorAlive())

	require.NoError(t, r.Tick(ctx, at(100*time.Millisecond)))
	assert.Empty(t, ofKind(medium.take(), message.KindDBRequest))

	require.NoError(t, r.Tick(ctx, at(200*time.Millisecond)))
	assert.Len(t, ofKind(medium.take(), message.KindDBRequest), 1, "still pending, so it is resent")
}

func TestRouter_AdoptsDBAndComputesRoutes(t *testing.T) {
	bus := eventBus.NewEventBus(nil)
	events := bus.Subscribe()
	r, medium := newTestRouter(t, WithEvents(eventBus.Emitter{Bus: bus}))

	medium.queue(0,
		message.Hello{From: 3},
		message.Hello{From: 1},
		message.Hello{From: 2},
		message.DB{From: 3, Topology: triangle},
	)
	require.NoError(t, r.Tick(context.Background(), at(0)))
	sent := medium.take()

	assert.Same(t, triangle, r.Topology())
	assert.False(t, r.Snapshot().PendingDBRequest)
	for dest, want := range map[int]int{0: 0, 1: 1, 2: 2} {
		got, ok := r.FirstHop(dest)
		require.True(t, ok)
		assert.Equal(t, want, got, "first hop to %d", dest)
	}
	assert.True(t, r.Alive(1))
	assert.True(t, r.Alive(2))
	assert.True(t, r.Alive(3))
	assert.Empty(t, ofKind(sent, message.KindLSA), "liveness matches the topology row")
	assert.Empty(t, ofKind(sent, message.KindDBRequest))

	evs := collect(events)
	assert.Len(t, eventsOfType(evs, eventBus.EventTopologyAdopted), 1)
	assert.Len(t, eventsOfType(evs, eventBus.EventRoutesRecomputed), 1)
	assert.Len(t, eventsOfType(evs, eventBus.EventNeighborUp), 3)
}

func TestRouter_NilTopologyIsIgnored(t *testing.T) {
	r, medium := newTestRouter(t)
	medium.queue(0, message.Hello{From: 3}, message.DB{From: 3})

	require.NoError(t, r.Tick(context.Background(), at(0)))
	s := r.Snapshot()
	assert.Nil(t, s.Topology)
	assert.Nil(t, s.Routes)
	assert.True(t, s.PendingDBRequest)
}

func TestRouter_LSAOnDrift(t *testing.T) {
	r, medium := newTestRouter(t)
	medium.queue(0,
		message.Hello{From: 3},
		message.Hello{From: 1},
		message.DB{From: 3, Topology: triangle},
	)

	require.NoError(t, r.Tick(context.Background(), at(0)))
	lsas := ofKind(medium.take(), message.KindLSA)
	require.Len(t, lsas, 1)
	assert.Equal(t, 3, lsas[0].Destination)
	if diff := cmp.Diff(message.LSA{From: 0, Neighbors: []int{1}}, lsas[0].Payload); diff != "" {
		t.Errorf("LSA mismatch (-want +got):\n%s", diff)
	}
}

func TestRouter_LSAThrottleSharedWithDBRequest(t *testing.T) {
	r, medium := newTestRouter(t)
	ctx := context.Background()

	medium.queue(0, message.Hello{From: 3}, message.Hello{From: 1})
	require.NoError(t, r.Tick(ctx, at(0)))
	require.Len(t, ofKind(medium.take(), message.KindDBRequest), 1)

	medium.queue(0, message.DB{From: 3, Topology: triangle})
	require.NoError(t, r.Tick(ctx, at(50*time.Millisecond)))
	assert.Empty(t, ofKind(medium.take(), message.KindLSA), "the DB request stamped the throttle")

	require.NoError(t, r.Tick(ctx, at(200*time.Millisecond)))
	assert.Len(t, ofKind(medium.take(), message.KindLSA), 1)
}

func TestRouter_NoControlWhileAggregatorDead(t *testing.T) {
	r, medium := newTestRouter(t)
	medium.queue(0, message.Hello{From: 1}, message.DB{From: 3, Topology: triangle})

	require.NoError(t, r.Tick(context.Background(), at(0)))
	sent := medium.take()
	assert.Empty(t, ofKind(sent, message.KindLSA))
	assert.Empty(t, ofKind(sent, message.KindDBRequest))
}

func TestRouter_HelloRefreshKeepsNeighborAlive(t *testing.T) {
	r, medium := newTestRouter(t)
	ctx := context.Background()
	converge(t, r, medium)

	medium.queue(0, message.Hello{From: 1})
	require.NoError(t, r.Tick(ctx, at(900*time.Millisecond)))

	require.NoError(t, r.Tick(ctx, at(1500*time.Millisecond)))
	assert.True(t, r.Alive(1), "refreshed at 900ms")
	assert.False(t, r.Alive(2), "silent since 0")
	assert.False(t, r.AggregatorAlive())
}

func TestRouter_ForwardsToFirstHop(t *testing.T) {
	r, medium := newTestRouter(t)
	converge(t, r, medium)

	data := message.Data{Origin: 1, Destination: 2, Payload: "segment"}
	medium.queue(0, data)
	require.NoError(t, r.Tick(context.Background(), at(time.Millisecond)))

	fwd := ofKind(medium.take(), message.KindData)
	require.Len(t, fwd, 1)
	assert.Equal(t, 2, fwd[0].Destination)
	assert.Equal(t, data, fwd[0].Payload, "forwarded unchanged")
}

func TestRouter_DropsWhenFirstHopDead(t *testing.T) {
	bus := eventBus.NewEventBus(nil)
	events := bus.Subscribe()
	r, medium := newTestRouter(t, WithEvents(eventBus.Emitter{Bus: bus}))
	ctx := context.Background()
	converge(t, r, medium)

	require.NoError(t, r.Tick(ctx, at(1100*time.Millisecond)))
	require.False(t, r.Alive(2))
	medium.take()
	collect(events)

	medium.queue(0, message.Data{Origin: 1, Destination: 2})
	require.NoError(t, r.Tick(ctx, at(1101*time.Millisecond)))

	assert.Empty(t, ofKind(medium.take(), message.KindData))
	dropped := eventsOfType(collect(events), eventBus.EventForwardDropped)
	require.Len(t, dropped, 1)
	assert.Equal(t, "first hop is dead", dropped[0].Payload)
}

func TestRouter_DropsWithoutRoutes(t *testing.T) {
	r, medium := newTestRouter(t)
	medium.queue(0, message.Data{Origin: 0, Destination: 2})

	require.NoError(t, r.Tick(context.Background(), at(0)))
	assert.Empty(t, ofKind(medium.take(), message.KindData))
}

func TestRouter_DropsWhenFirstHopIsNotANeighbor(t *testing.T) {
	medium := newFakeMedium()
	r, err := NewRouter(0, 3, []int{1}, medium, DefaultConfig())
	require.NoError(t, err)

	// The flooded view claims a link to 2 that is not configured locally.
	medium.queue(0, message.Hello{From: 1}, message.DB{From: 3, Topology: triangle})
	require.NoError(t, r.Tick(context.Background(), at(0)))
	medium.take()

	medium.queue(0, message.Data{Origin: 1, Destination: 2})
	require.NoError(t, r.Tick(context.Background(), at(time.Millisecond)))
	assert.Empty(t, ofKind(medium.take(), message.KindData))
}

func TestRouter_SendAndFetch(t *testing.T) {
	r, medium := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, r.Send(ctx, 2, 42))
	sent := medium.take()
	require.Len(t, sent, 1)
	assert.Equal(t, 0, sent[0].Destination, "injected through the router's own endpoint")
	assert.Equal(t, message.Data{Origin: 0, Destination: 2, Payload: 42}, sent[0].Payload)

	_, ok := r.Fetch()
	assert.False(t, ok)

	medium.queue(0, message.Data{Origin: 2, Destination: 0, Payload: "ack"})
	require.NoError(t, r.Tick(ctx, at(0)))
	got, ok := r.Fetch()
	require.True(t, ok)
	assert.Equal(t, "ack", got.Payload)
	assert.Equal(t, uint64(1), r.InboxStats().Received)
}

// Routers and the aggregator converge on a real link to the static
// topology and to its BFS tables.
func TestRouting_ConvergesOverLink(t *testing.T) {
	adjacency := [][]int{
		{2, 3, 4, 5, 6},
		{2, 3, 4, 5, 6},
		{0, 1}, {0, 1}, {0, 1}, {0, 1}, {0, 1},
	}
	const aggregatorID = 7
	link, err := network.NewLink(aggregatorID+1, network.Config{QueueCapacity: 4096})
	require.NoError(t, err)
	cfg := DefaultConfig()

	agg, err := NewAggregator(aggregatorID, len(adjacency), link, cfg)
	require.NoError(t, err)
	routers := make([]*Router, len(adjacency))
	for id, neighbors := range adjacency {
		routers[id], err = NewRouter(id, aggregatorID, neighbors, link, cfg)
		require.NoError(t, err)
	}

	ctx := context.Background()
	for step := 0; step < 2000; step++ {
		now := at(time.Duration(step) * time.Millisecond)
		require.NoError(t, agg.Tick(ctx, now))
		for _, r := range routers {
			require.NoError(t, r.Tick(ctx, now))
		}
		for i := 0; i < 200; i++ {
			link.Pump(now)
		}
	}

	want := mesh.FromAdjacency(adjacency)
	assert.Equal(t, want.String(), agg.Topology().String())
	for id, r := range routers {
		require.NotNil(t, r.Topology(), "router %d", id)
		assert.Equal(t, want.String(), r.Topology().String(), "router %d", id)
		expected := mesh.ComputeFirstHops(want, id)
		for dest := range adjacency {
			got, ok := r.FirstHop(dest)
			exp, _ := expected.Next(dest)
			require.True(t, ok, "router %d to %d", id, dest)
			assert.Equal(t, exp, got, "router %d to %d", id, dest)
		}
	}
	hop, _ := routers[0].FirstHop(1)
	assert.Equal(t, 2, hop)
}
