package mesh

import (
	"fmt"
	"strings"
)

const unreachable = -1

// FirstHops is a shortest-path (hop count) table computed from one source.
// For every reachable destination it stores the neighbor of the source that
// starts a shortest path towards it.
type FirstHops struct {
	source int
	parent []int
	first  []int
	dist   []int
}

// ComputeFirstHops runs a breadth-first search from source over t. Ties are
// broken by visitation order, which follows the ascending order of each
// neighbor set.
func ComputeFirstHops(t *Topology, source int) *FirstHops {
	n := t.Routers()
	fh := &FirstHops{
		source: source,
		parent: filled(n, unreachable),
		first:  filled(n, unreachable),
		dist:   filled(n, unreachable),
	}
	if source < 0 || source >= n {
		return fh
	}

	fh.parent[source] = source
	fh.first[source] = source
	fh.dist[source] = 0

	queue := []int{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range t.rows[cur] {
			if next < 0 || next >= n || fh.parent[next] != unreachable {
				continue
			}
			fh.parent[next] = cur
			fh.dist[next] = fh.dist[cur] + 1
			if cur == source {
				fh.first[next] = next
			} else {
				fh.first[next] = fh.first[cur]
			}
			queue = append(queue, next)
		}
	}
	return fh
}

// Source returns the router the table was computed for.
func (fh *FirstHops) Source() int {
	return fh.source
}

// Next returns the first-hop neighbor towards dest. The source maps to
// itself.
func (fh *FirstHops) Next(dest int) (int, bool) {
	if dest < 0 || dest >= len(fh.first) || fh.first[dest] == unreachable {
		return 0, false
	}
	return fh.first[dest], true
}

// Distance returns the hop distance to dest.
func (fh *FirstHops) Distance(dest int) (int, bool) {
	if dest < 0 || dest >= len(fh.dist) || fh.dist[dest] == unreachable {
		return 0, false
	}
	return fh.dist[dest], true
}

// Path returns the BFS tree path from the source to dest, both included.
func (fh *FirstHops) Path(dest int) []int {
	if _, ok := fh.Distance(dest); !ok {
		return nil
	}
	var rev []int
	for cur := dest; cur != fh.source; cur = fh.parent[cur] {
		rev = append(rev, cur)
	}
	rev = append(rev, fh.source)
	path := make([]int, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

// String renders reachable entries as "dest->via" pairs.
func (fh *FirstHops) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "from %d:", fh.source)
	for dest, via := range fh.first {
		if via == unreachable {
			continue
		}
		fmt.Fprintf(&b, " %d->%d", dest, via)
	}
	return b.String()
}

func filled(n, v int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}
