package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ospf-simulation/internal/message"
)

func hello(from, to int) message.ChannelMessage {
	return message.ChannelMessage{Destination: to, Payload: message.Hello{From: from}}
}

func newTestLink(t *testing.T, endpoints int, cfg Config, opts ...Option) *Link {
	t.Helper()
	l, err := NewLink(endpoints, cfg, opts...)
	require.NoError(t, err)
	return l
}

func TestLink_InvalidAddress(t *testing.T) {
	l := newTestLink(t, 3, DefaultConfig())
	ctx := context.Background()

	err := l.Send(ctx, hello(0, 3))
	assert.ErrorIs(t, err, ErrInvalidAddress)
	err = l.Send(ctx, hello(0, -1))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = l.Receive(5)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, uint64(0), l.Stats().Submitted)
}

func TestLink_EmptyIsNotAnError(t *testing.T) {
	l := newTestLink(t, 2, DefaultConfig())

	_, err := l.Receive(1)
	assert.True(t, errors.Is(err, ErrEmpty))
}

func TestLink_DelayHoldsDelivery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Delay = 10 * time.Millisecond
	l := newTestLink(t, 2, cfg)
	start := time.Now()

	require.NoError(t, l.Send(context.Background(), hello(0, 1)))
	l.Pump(start)
	_, err := l.Receive(1)
	assert.ErrorIs(t, err, ErrEmpty)

	l.Pump(start.Add(9 * time.Millisecond))
	_, err = l.Receive(1)
	assert.ErrorIs(t, err, ErrEmpty)

	l.Pump(start.Add(10 * time.Millisecond))
	msg, err := l.Receive(1)
	require.NoError(t, err)
	assert.Equal(t, message.Hello{From: 0}, msg)
}

func TestLink_OneDecisionPerPump(t *testing.T) {
	l := newTestLink(t, 2, DefaultConfig())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Send(ctx, hello(i, 1)))
	}
	for i := 0; i < 3; i++ {
		assert.True(t, l.Pump(now))
		msg, err := l.Receive(1)
		require.NoError(t, err)
		assert.Equal(t, i, msg.Sender(), "delivery keeps submission order")
		_, err = l.Receive(1)
		assert.ErrorIs(t, err, ErrEmpty)
	}
	assert.False(t, l.Pump(now), "nothing left to decide")
}

func TestLink_Loss(t *testing.T) {
	tests := []struct {
		name      string
		loss      float64
		draw      float64
		delivered bool
	}{
		{"no loss", 0, 0, true},
		{"draw below probability drops", 0.5, 0.49, false},
		{"draw at probability delivers", 0.5, 0.5, true},
		{"certain loss", 1, 0.999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LossProbability = tt.loss
			l := newTestLink(t, 2, cfg, WithRand(func() float64 { return tt.draw }))

			require.NoError(t, l.Send(context.Background(), hello(0, 1)))
			l.Pump(time.Now())

			_, err := l.Receive(1)
			if tt.delivered {
				assert.NoError(t, err)
				assert.Equal(t, uint64(1), l.Stats().Delivered)
			} else {
				assert.ErrorIs(t, err, ErrEmpty)
				assert.Equal(t, uint64(1), l.Stats().Lost)
			}
		})
	}
}

func TestLink_DelayModels(t *testing.T) {
	// A message to endpoint 1 submitted before one to endpoint 2: with a
	// shared in-flight queue the second waits behind the first even when it
	// is due, per destination it does not.
	cfg := DefaultConfig()
	cfg.Delay = 5 * time.Millisecond
	start := time.Now()

	t.Run("head of line", func(t *testing.T) {
		l := newTestLink(t, 3, cfg)
		require.NoError(t, l.Send(context.Background(), hello(0, 1)))
		l.Pump(start)
		require.NoError(t, l.Send(context.Background(), hello(0, 2)))
		l.Pump(start.Add(time.Millisecond))

		l.Pump(start.Add(6 * time.Millisecond))
		_, err := l.Receive(2)
		assert.ErrorIs(t, err, ErrEmpty, "endpoint 2 is blocked behind endpoint 1")
		_, err = l.Receive(1)
		assert.NoError(t, err)

		l.Pump(start.Add(7 * time.Millisecond))
		_, err = l.Receive(2)
		assert.NoError(t, err)
	})

	t.Run("per destination", func(t *testing.T) {
		cfg := cfg
		cfg.DelayModel = PerDestination
		l := newTestLink(t, 3, cfg)
		require.NoError(t, l.Send(context.Background(), hello(0, 1)))
		l.Pump(start)
		require.NoError(t, l.Send(context.Background(), hello(0, 2)))
		l.Pump(start.Add(time.Millisecond))

		l.Pump(start.Add(6 * time.Millisecond))
		_, err := l.Receive(1)
		assert.NoError(t, err)
		_, err = l.Receive(2)
		assert.NoError(t, err)
	})
}

func TestLink_OverflowDrops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 1
	l := newTestLink(t, 2, cfg)
	now := time.Now()

	require.NoError(t, l.Send(context.Background(), hello(0, 1)))
	l.Pump(now)
	require.NoError(t, l.Send(context.Background(), hello(2, 1)))
	l.Pump(now)

	assert.Equal(t, uint64(1), l.Stats().Overflowed)
	msg, err := l.Receive(1)
	require.NoError(t, err)
	assert.Equal(t, 0, msg.Sender())
}

func TestLink_SendHonoursContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 1
	l := newTestLink(t, 2, cfg)

	require.NoError(t, l.Send(context.Background(), hello(0, 1)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Send(ctx, hello(0, 1)), context.Canceled)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative delay", func(c *Config) { c.Delay = -time.Millisecond }},
		{"loss above one", func(c *Config) { c.LossProbability = 1.5 }},
		{"negative loss", func(c *Config) { c.LossProbability = -0.1 }},
		{"zero capacity", func(c *Config) { c.QueueCapacity = 0 }},
		{"bad model", func(c *Config) { c.DelayModel = 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
			_, err := NewLink(2, cfg)
			assert.Error(t, err)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestParseDelayModel(t *testing.T) {
	m, err := ParseDelayModel("per_destination")
	require.NoError(t, err)
	assert.Equal(t, PerDestination, m)

	m, err = ParseDelayModel("")
	require.NoError(t, err)
	assert.Equal(t, HeadOfLine, m)

	_, err = ParseDelayModel("fastest")
	assert.Error(t, err)
}

func TestLink_RunDeliversUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := newTestLink(t, 2, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, 100*time.Microsecond) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Send(ctx, hello(0, 1)))
	}
	require.Eventually(t, func() bool { return l.Stats().Delivered == 5 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestMailbox_ReadyCoalesces(t *testing.T) {
	m := NewMailbox[int]("test", 4)
	select {
	case <-m.Ready():
		t.Fatal("ready before any send")
	default:
	}

	require.True(t, m.TrySend(1))
	require.NoError(t, m.Send(context.Background(), 2))
	<-m.Ready()
	select {
	case <-m.Ready():
		t.Fatal("tokens did not coalesce")
	default:
	}
	assert.Equal(t, 2, m.Len())
}

func TestLink_RunWakesOnSubmission(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := newTestLink(t, 2, DefaultConfig())
	assert.Nil(t, l.Ready(2))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	// Only a submission can wake the pump within the test's lifetime.
	go func() { done <- l.Run(ctx, time.Hour) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Send(ctx, hello(0, 1)))
		select {
		case <-l.Ready(1):
		case <-time.After(5 * time.Second):
			t.Fatalf("delivery %d did not signal", i)
		}
	}
	require.Eventually(t, func() bool { return l.Stats().Delivered == 3 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
