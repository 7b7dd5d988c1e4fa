package mqtt

import (
	"context"
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/metrics"
)

// Controller suspends and resumes actors of the active run.
type Controller interface {
	Suspend(id int) error
	Resume(id int) error
}

// ProcessControlMessage handles messages coming from the control topic.
func ProcessControlMessage(ctl Controller, logger *zap.Logger) func(mqtt.Client, mqtt.Message) {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var payload ControlPayload
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			logger.Warn("bad control payload", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}

		var err error
		switch payload.Event {
		case "suspend":
			err = ctl.Suspend(payload.Node)
		case "resume":
			err = ctl.Resume(payload.Node)
		default:
			logger.Warn("unknown control event", zap.String("event", payload.Event))
			return
		}
		if err != nil {
			logger.Warn("control failed", zap.String("event", payload.Event), zap.Int("node", payload.Node), zap.Error(err))
			return
		}
		logger.Info("control applied over mqtt", zap.String("event", payload.Event), zap.Int("node", payload.Node))
	}
}

// Publisher is satisfied by *MQTTManager.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Forwarder republishes bus events and run results under a topic prefix.
type Forwarder struct {
	pub    Publisher
	topic  string
	format Format
	logger *zap.Logger
}

func NewForwarder(pub Publisher, topic string, format Format, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{pub: pub, topic: topic, format: format, logger: logger}
}

// ControlTopic is where ProcessControlMessage should be subscribed.
func (f *Forwarder) ControlTopic() string { return f.topic + "/control" }

// Forward publishes each event from ch until ch closes or ctx is done.
// Publish failures are logged and skipped.
func (f *Forwarder) Forward(ctx context.Context, ch <-chan eventBus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			f.publish(f.topic+"/events/"+string(ev.Type), ev)
		}
	}
}

// PublishRun publishes one finished run.
func (f *Forwarder) PublishRun(policy string, run metrics.Run) error {
	return f.publish(f.topic+"/runs", RunPayload{Policy: policy, Run: run})
}

func (f *Forwarder) publish(topic string, v any) error {
	payload, err := f.format.Encode(v)
	if err != nil {
		f.logger.Warn("encode failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	if err := f.pub.Publish(topic, 0, false, payload); err != nil {
		f.logger.Debug("publish failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	return nil
}
