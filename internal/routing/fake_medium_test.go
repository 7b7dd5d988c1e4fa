package routing

import (
	"context"
	"time"

	"ospf-simulation/internal/eventBus"
	"ospf-simulation/internal/message"
	"ospf-simulation/internal/network"
)

// fakeMedium delivers exactly what a test queues and records every send.
type fakeMedium struct {
	inbox map[int][]message.Message
	sent  []message.ChannelMessage
	fail  error
}

func newFakeMedium() *fakeMedium {
	return &fakeMedium{inbox: make(map[int][]message.Message)}
}

func (f *fakeMedium) Send(_ context.Context, msg message.ChannelMessage) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMedium) Receive(endpoint int) (message.Message, error) {
	q := f.inbox[endpoint]
	if len(q) == 0 {
		return nil, network.ErrEmpty
	}
	f.inbox[endpoint] = q[1:]
	return q[0], nil
}

func (f *fakeMedium) queue(endpoint int, msgs ...message.Message) {
	f.inbox[endpoint] = append(f.inbox[endpoint], msgs...)
}

// take returns and forgets everything sent so far.
func (f *fakeMedium) take() []message.ChannelMessage {
	out := f.sent
	f.sent = nil
	return out
}

func ofKind(msgs []message.ChannelMessage, kind message.Kind) []message.ChannelMessage {
	var out []message.ChannelMessage
	for _, m := range msgs {
		if m.Payload.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

func destinations(msgs []message.ChannelMessage) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = m.Destination
	}
	return out
}

// collect drains whatever the bus has buffered so far.
func collect(ch chan eventBus.Event) []eventBus.Event {
	var out []eventBus.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(evs []eventBus.Event, typ eventBus.EventType) []eventBus.Event {
	var out []eventBus.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return testStart.Add(d) }
