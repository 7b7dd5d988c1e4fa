package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/metrics"
	"ospf-simulation/internal/transport"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail error
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type recordingController struct {
	suspended, resumed []int
}

func (c *recordingController) Suspend(id int) error {
	c.suspended = append(c.suspended, id)
	return nil
}

func (c *recordingController) Resume(id int) error {
	c.resumed = append(c.resumed, id)
	return nil
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("msgpack")
	require.NoError(t, err)
	assert.Equal(t, FormatMsgpack, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestForwarder_ForwardsEventsAsJSON(t *testing.T) {
	defer goleak.VerifyNone(t)

	pub := &fakePublisher{}
	fwd := NewForwarder(pub, "sim", FormatJSON, zap.NewNop())
	ch := make(chan eventBus.Event, 2)
	ch <- eventBus.Event{Type: eventBus.EventTopologyFlooded, RouterID: 7, Timestamp: time.Now()}
	ch <- eventBus.Event{Type: eventBus.EventNeighborDown, RouterID: 0, PeerID: 2, Timestamp: time.Now()}
	close(ch)

	fwd.Forward(context.Background(), ch)

	msgs := pub.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "sim/events/TOPOLOGY_FLOODED", msgs[0].topic)
	assert.Equal(t, "sim/events/NEIGHBOR_DOWN", msgs[1].topic)

	var ev eventBus.Event
	require.NoError(t, json.Unmarshal(msgs[1].payload, &ev))
	assert.Equal(t, 2, ev.PeerID)
}

func TestForwarder_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	fwd := NewForwarder(&fakePublisher{}, "sim", FormatJSON, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fwd.Forward(ctx, make(chan eventBus.Event))
		close(done)
	}()
	cancel()
	<-done
}

func TestForwarder_PublishRunMsgpack(t *testing.T) {
	pub := &fakePublisher{}
	fwd := NewForwarder(pub, "sim", FormatMsgpack, nil)
	run := metrics.Run{
		RunID:  uuid.New(),
		Loss:   0.16,
		Result: transport.Result{Policy: "SelectiveRepeat", Items: 1000, Window: 4, Sent: 1290, Timeouts: 40},
	}
	require.NoError(t, fwd.PublishRun("SelectiveRepeat", run))

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sim/runs", msgs[0].topic)

	var got RunPayload
	require.NoError(t, msgpack.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "SelectiveRepeat", got.Policy)
	assert.Equal(t, run.RunID, got.Run.RunID)
	assert.Equal(t, 1290, got.Run.Result.Sent)
	assert.Equal(t, 0.16, got.Run.Loss)
}

func TestForwarder_PublishError(t *testing.T) {
	boom := errors.New("broker gone")
	fwd := NewForwarder(&fakePublisher{fail: boom}, "sim", FormatJSON, nil)
	assert.ErrorIs(t, fwd.PublishRun("GoBackN", metrics.Run{}), boom)
	assert.Equal(t, "sim/control", fwd.ControlTopic())
}

func TestProcessControlMessage(t *testing.T) {
	ctl := &recordingController{}
	handle := ProcessControlMessage(ctl, zap.NewNop())

	handle(nil, fakeMessage{topic: "sim/control", payload: []byte(`{"event":"suspend","node":2}`)})
	handle(nil, fakeMessage{topic: "sim/control", payload: []byte(`{"event":"resume","node":2}`)})
	handle(nil, fakeMessage{topic: "sim/control", payload: []byte(`{"event":"reboot","node":3}`)})
	handle(nil, fakeMessage{topic: "sim/control", payload: []byte(`not json`)})

	assert.Equal(t, []int{2}, ctl.suspended)
	assert.Equal(t, []int{2}, ctl.resumed)
}
