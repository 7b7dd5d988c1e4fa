package message

import (
	"fmt"

	"ospf-simulation/internal/mesh"
)

// Kind identifies one of the five routing message variants.
type Kind uint8

const (
	KindData Kind = iota + 1
	KindHello
	KindLSA
	KindDB
	KindDBRequest
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindHello:
		return "HELLO"
	case KindLSA:
		return "LSA"
	case KindDB:
		return "DB"
	case KindDBRequest:
		return "DB_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// Message is the closed set of routing messages. Only the types in this
// package implement it.
type Message interface {
	Kind() Kind
	// Sender returns the originating router id.
	Sender() int
	sealed()
}

// Data carries an application payload from Origin to Destination. Routers
// forward it unchanged hop by hop.
type Data struct {
	Origin      int
	Destination int
	Payload     any
}

// Hello is the liveness keepalive.
type Hello struct {
	From int
}

// LSA reports the live neighbor set of From.
type LSA struct {
	From      int
	Neighbors []int
}

// DB is a full topology snapshot flooded by the aggregator.
type DB struct {
	From     int
	Topology *mesh.Topology
}

// DBRequest asks the aggregator for a fresh snapshot.
type DBRequest struct {
	From int
}

func (Data) Kind() Kind      { return KindData }
func (Hello) Kind() Kind     { return KindHello }
func (LSA) Kind() Kind       { return KindLSA }
func (DB) Kind() Kind        { return KindDB }
func (DBRequest) Kind() Kind { return KindDBRequest }

func (m Data) Sender() int      { return m.Origin }
func (m Hello) Sender() int     { return m.From }
func (m LSA) Sender() int       { return m.From }
func (m DB) Sender() int        { return m.From }
func (m DBRequest) Sender() int { return m.From }

func (Data) sealed()      {}
func (Hello) sealed()     {}
func (LSA) sealed()       {}
func (DB) sealed()        {}
func (DBRequest) sealed() {}

// Handler receives a message by variant. Adding a variant adds a method here,
// so every handler stops compiling until it deals with it.
type Handler interface {
	HandleData(Data)
	HandleHello(Hello)
	HandleLSA(LSA)
	HandleDB(DB)
	HandleDBRequest(DBRequest)
}

// Dispatch calls the Handler method matching msg.
func Dispatch(msg Message, h Handler) error {
	switch m := msg.(type) {
	case Data:
		h.HandleData(m)
	case Hello:
		h.HandleHello(m)
	case LSA:
		h.HandleLSA(m)
	case DB:
		h.HandleDB(m)
	case DBRequest:
		h.HandleDBRequest(m)
	default:
		return fmt.Errorf("unhandled message type %T", msg)
	}
	return nil
}

// ChannelMessage is what the link carries: a payload addressed to one
// endpoint.
type ChannelMessage struct {
	Destination int
	Payload     Message
}

func (m ChannelMessage) String() string {
	return fmt.Sprintf("%s from %d to endpoint %d", m.Payload.Kind(), m.Payload.Sender(), m.Destination)
}
