package eventBus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	EventRunStarted       EventType = "RUN_STARTED"
	EventRunFinished      EventType = "RUN_FINISHED"
	EventNeighborUp       EventType = "NEIGHBOR_UP"
	EventNeighborDown     EventType = "NEIGHBOR_DOWN"
	EventLSASent          EventType = "LSA_SENT"
	EventLSAReceived      EventType = "LSA_RECEIVED"
	EventDBRequested      EventType = "DB_REQUESTED"
	EventTopologyFlooded  EventType = "TOPOLOGY_FLOODED"
	EventTopologyAdopted  EventType = "TOPOLOGY_ADOPTED"
	EventRoutesRecomputed EventType = "ROUTES_RECOMPUTED"
	EventForwardDropped   EventType = "FORWARD_DROPPED"
	EventDataDelivered    EventType = "DATA_DELIVERED"
	EventWindowTimeout    EventType = "WINDOW_TIMEOUT"
	EventNodeSuspended    EventType = "NODE_SUSPENDED"
	EventNodeResumed      EventType = "NODE_RESUMED"
)

// Event holds details that a front end or collector might need.
type Event struct {
	Type      EventType `json:"type"`
	RunID     uuid.UUID `json:"run_id"`
	RouterID  int       `json:"router_id"`
	PeerID    int       `json:"peer_id,omitempty"`
	Index     int       `json:"index,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventBus manages a set of subscribers and publishes events to them.
type EventBus struct {
	subscribers []chan Event
	mu          sync.RWMutex
	dropped     atomic.Uint64
	logger      *zap.Logger
}

// NewEventBus creates a new EventBus instance.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make([]chan Event, 0),
		logger:      logger,
	}
}

// Publish sends an event to all subscribers. A busy subscriber misses the
// event rather than stalling the publisher.
func (eb *EventBus) Publish(e Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, sub := range eb.subscribers {
		select {
		case sub <- e:
		default:
			eb.dropped.Add(1)
			eb.logger.Debug("dropping event: subscriber channel is full", zap.String("type", string(e.Type)))
		}
	}
}

// Subscribe returns a new channel that will receive published events.
func (eb *EventBus) Subscribe() chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	ch := make(chan Event, 1024)
	eb.subscribers = append(eb.subscribers, ch)
	return ch
}

// Unsubscribe detaches ch and closes it.
func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// Emitter stamps events with a run id and time before publishing. The zero
// value discards everything.
type Emitter struct {
	Bus   *EventBus
	RunID uuid.UUID
}

// Emit publishes e.
func (em Emitter) Emit(e Event) {
	if em.Bus == nil {
		return
	}
	e.RunID = em.RunID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	em.Bus.Publish(e)
}
