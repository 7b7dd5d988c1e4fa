// Package liveness tracks Hello emission and dead-interval detection for a
// fixed set of peers.
package liveness

import (
	"fmt"
	"slices"
	"time"
)

// Config holds the keepalive timings.
type Config struct {
	// HelloInterval is the period between Hellos sent to one peer.
	HelloInterval time.Duration
	// DeadInterval is how long a peer may stay silent before it is dead.
	DeadInterval time.Duration
}

// Validate checks that a peer survives at least one missed Hello.
func (c Config) Validate() error {
	if c.HelloInterval <= 0 {
		return fmt.Errorf("hello interval must be positive, got %v", c.HelloInterval)
	}
	if c.DeadInterval <= c.HelloInterval {
		return fmt.Errorf("dead interval (%v) must exceed hello interval (%v)", c.DeadInterval, c.HelloInterval)
	}
	return nil
}

type peer struct {
	id        int
	lastSent  time.Time
	lastHeard time.Time
	alive     bool
}

// Transition records a peer whose liveness flipped during Update.
type Transition struct {
	Peer  int
	Alive bool
}

// Tracker is not safe for concurrent use; it belongs to one actor.
type Tracker struct {
	cfg   Config
	peers []peer
	index map[int]int
}

// New creates a tracker for peers, all initially dead and never greeted.
func New(peers []int, cfg Config) *Tracker {
	t := &Tracker{
		cfg:   cfg,
		peers: make([]peer, 0, len(peers)),
		index: make(map[int]int, len(peers)),
	}
	for _, id := range peers {
		if _, dup := t.index[id]; dup {
			continue
		}
		t.index[id] = len(t.peers)
		t.peers = append(t.peers, peer{id: id})
	}
	return t
}

// Peers returns the tracked peer ids in construction order.
func (t *Tracker) Peers() []int {
	ids := make([]int, len(t.peers))
	for i, p := range t.peers {
		ids[i] = p.id
	}
	return ids
}

// DueHellos returns the peers that need a Hello now and stamps them as sent.
func (t *Tracker) DueHellos(now time.Time) []int {
	var due []int
	for i := range t.peers {
		p := &t.peers[i]
		if p.lastSent.IsZero() || !now.Before(p.lastSent.Add(t.cfg.HelloInterval)) {
			p.lastSent = now
			due = append(due, p.id)
		}
	}
	return due
}

// Heard records a Hello from id. Unknown ids are ignored.
func (t *Tracker) Heard(id int, now time.Time) bool {
	i, ok := t.index[id]
	if !ok {
		return false
	}
	t.peers[i].lastHeard = now
	return true
}

// Update recomputes every peer's liveness and returns the flips.
func (t *Tracker) Update(now time.Time) []Transition {
	var flips []Transition
	for i := range t.peers {
		p := &t.peers[i]
		alive := !p.lastHeard.IsZero() && now.Before(p.lastHeard.Add(t.cfg.DeadInterval))
		if alive != p.alive {
			flips = append(flips, Transition{Peer: p.id, Alive: alive})
		}
		p.alive = alive
	}
	return flips
}

// Alive reports the liveness computed by the last Update.
func (t *Tracker) Alive(id int) bool {
	i, ok := t.index[id]
	return ok && t.peers[i].alive
}

// LiveSet returns the sorted ids of live peers.
func (t *Tracker) LiveSet() []int {
	live := make([]int, 0, len(t.peers))
	for _, p := range t.peers {
		if p.alive {
			live = append(live, p.id)
		}
	}
	slices.Sort(live)
	return live
}
