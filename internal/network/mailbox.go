package network

import (
	"context"
	"sync/atomic"
)

// Mailbox is a bounded FIFO between actors with sent/received/dropped
// counters. Any number of goroutines may send; reads are expected from a
// single consumer, which can block on Ready instead of polling.
type Mailbox[T any] struct {
	ch    chan T
	ready chan struct{}
	name  string

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewMailbox creates a mailbox with the given name and capacity.
func NewMailbox[T any](name string, capacity int) *Mailbox[T] {
	return &Mailbox[T]{
		ch:    make(chan T, capacity),
		ready: make(chan struct{}, 1),
		name:  name,
	}
}

// Send enqueues value, waiting while the mailbox is full.
// Returns ctx.Err() if the context ends first.
func (m *Mailbox[T]) Send(ctx context.Context, value T) error {
	select {
	case m.ch <- value:
		m.sent.Add(1)
		m.notify()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues value without blocking. Returns false, and counts a drop,
// if the mailbox is full.
func (m *Mailbox[T]) TrySend(value T) bool {
	select {
	case m.ch <- value:
		m.sent.Add(1)
		m.notify()
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

// TryReceive dequeues the next value without blocking.
func (m *Mailbox[T]) TryReceive() (T, bool) {
	select {
	case value := <-m.ch:
		m.received.Add(1)
		return value, true
	default:
		var zero T
		return zero, false
	}
}

// Ready receives a token after a value was enqueued. Tokens coalesce, so a
// consumer woken by Ready must drain until TryReceive fails.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

func (m *Mailbox[T]) notify() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of queued values.
func (m *Mailbox[T]) Len() int {
	return len(m.ch)
}

// Cap returns the mailbox capacity.
func (m *Mailbox[T]) Cap() int {
	return cap(m.ch)
}

// MailboxStats is a point-in-time copy of a mailbox's counters.
type MailboxStats struct {
	Name     string `json:"name"`
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
	Pending  int    `json:"pending"`
	Capacity int    `json:"capacity"`
}

// Stats returns the current counters.
func (m *Mailbox[T]) Stats() MailboxStats {
	return MailboxStats{
		Name:     m.name,
		Sent:     m.sent.Load(),
		Received: m.received.Load(),
		Dropped:  m.dropped.Load(),
		Pending:  len(m.ch),
		Capacity: cap(m.ch),
	}
}
