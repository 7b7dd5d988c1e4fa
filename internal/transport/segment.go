// Package transport implements the windowed ARQ that runs end to end over
// the routed network: a Sender with a pluggable repeat policy and a Receiver
// that confirms every segment it sees.
package transport

import (
	"context"
	"fmt"

	"ospf-simulation/internal/message"
)

// SegmentKind tells data segments from confirmations.
type SegmentKind uint8

const (
	DataSegment SegmentKind = iota + 1
	Confirmation
)

func (k SegmentKind) String() string {
	switch k {
	case DataSegment:
		return "DATA"
	case Confirmation:
		return "CONFIRMATION"
	default:
		return "UNKNOWN"
	}
}

// Segment is the transport payload carried inside message.Data.
type Segment struct {
	Kind  SegmentKind
	Index int
}

func (s Segment) String() string {
	return fmt.Sprintf("%s#%d", s.Kind, s.Index)
}

// State is the sender-side lifecycle of one item.
type State uint8

const (
	Pending State = iota
	Sent
	Confirmed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Sent:
		return "SENT"
	case Confirmed:
		return "CONFIRMED"
	default:
		return "UNKNOWN"
	}
}

// Endpoint is the application side of a router.
type Endpoint interface {
	Send(ctx context.Context, dest int, payload any) error
	Fetch() (message.Data, bool)
}

// Notifier is implemented by endpoints that can signal new deliveries.
// Senders and receivers on such an endpoint wake on arrival instead of
// waiting out their poll interval.
type Notifier interface {
	Ready() <-chan struct{}
}

func readyOf(ep Endpoint) <-chan struct{} {
	if n, ok := ep.(Notifier); ok {
		return n.Ready()
	}
	return nil
}
