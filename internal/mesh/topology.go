package mesh

import (
	"fmt"
	"slices"
	"strings"
)

// Topology is an immutable adjacency snapshot: router id -> sorted set of
// neighbor ids the router reported as live. Snapshots are handed out by
// pointer and never mutated; WithNeighbors builds a successor that shares
// every untouched row.
type Topology struct {
	rows [][]int
}

// NewTopology returns a topology of the given size where no router has
// reported any neighbor yet.
func NewTopology(routers int) *Topology {
	return &Topology{rows: make([][]int, routers)}
}

// FromAdjacency builds a topology from a full adjacency list. Rows are
// copied, sorted and deduplicated.
func FromAdjacency(adj [][]int) *Topology {
	t := &Topology{rows: make([][]int, len(adj))}
	for id, row := range adj {
		t.rows[id] = normalise(row)
	}
	return t
}

// Routers returns the number of router ids covered by the snapshot.
func (t *Topology) Routers() int {
	return len(t.rows)
}

// Neighbors returns a copy of the neighbor set reported by id.
func (t *Topology) Neighbors(id int) []int {
	if id < 0 || id >= len(t.rows) {
		return nil
	}
	return slices.Clone(t.rows[id])
}

// HasLink reports whether router a lists b as a neighbor.
func (t *Topology) HasLink(a, b int) bool {
	if a < 0 || a >= len(t.rows) {
		return false
	}
	_, found := slices.BinarySearch(t.rows[a], b)
	return found
}

// Differs reports whether neighbors differs from the stored row of id, i.e.
// whether their symmetric difference is non-empty.
func (t *Topology) Differs(id int, neighbors []int) bool {
	if id < 0 || id >= len(t.rows) {
		return false
	}
	return !slices.Equal(t.rows[id], normalise(neighbors))
}

// WithNeighbors returns a new snapshot in which the row of id is replaced by
// neighbors. The receiver is left untouched.
func (t *Topology) WithNeighbors(id int, neighbors []int) *Topology {
	if id < 0 || id >= len(t.rows) {
		return t
	}
	next := &Topology{rows: make([][]int, len(t.rows))}
	copy(next.rows, t.rows)
	next.rows[id] = normalise(neighbors)
	return next
}

// String renders the snapshot as "0:[2 3] 1:[2 3] ...".
func (t *Topology) String() string {
	parts := make([]string, 0, len(t.rows))
	for id, row := range t.rows {
		parts = append(parts, fmt.Sprintf("%d:%v", id, row))
	}
	return strings.Join(parts, " ")
}

func normalise(ids []int) []int {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
