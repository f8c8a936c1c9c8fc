package graph

import (
	"container/heap"
	"errors"
	"fmt"
)

// ErrNoPath is returned when two nodes are not connected
var ErrNoPath = errors.New("no path between nodes")

// Path is a route through the traced structure
type Path struct {
	Nids   []int64 `json:"nids"`
	Length float64 `json:"length"`
}

// dijkstraEntry is a min-heap entry.
type dijkstraEntry struct {
	distance float64
	nid      int64
}

// dijkstraHeap implements container/heap.Interface as a min-heap.
// Ties broken by nid for deterministic output.
type dijkstraHeap []dijkstraEntry

func (h dijkstraHeap) Len() int { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance < h[j].distance
	}
	return h[i].nid < h[j].nid
}
func (h dijkstraHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x any)   { *h = append(*h, x.(dijkstraEntry)) }
func (h *dijkstraHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ShortestPath returns the geometrically shortest route from one node to
// another, weighting each edge by its Euclidean length.
func (m *Mirror) ShortestPath(from, to int64) (*Path, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	if _, ok := m.Node(from); !ok {
		return nil, fmt.Errorf("node %d not in graph", from)
	}
	if _, ok := m.Node(to); !ok {
		return nil, fmt.Errorf("node %d not in graph", to)
	}

	dist := map[int64]float64{from: 0}
	prev := map[int64]int64{}
	visited := map[int64]bool{}

	h := &dijkstraHeap{{distance: 0, nid: from}}
	heap.Init(h)

	for h.Len() > 0 {
		entry := heap.Pop(h).(dijkstraEntry)
		current := entry.nid
		if visited[current] {
			continue
		}
		visited[current] = true
		if current == to {
			break
		}

		cur, _ := m.Node(current)
		for _, nb := range m.Neighbors(current) {
			if visited[nb] {
				continue
			}
			next, _ := m.Node(nb)
			newDist := entry.distance + edgeLength(cur.Coord, next.Coord)

			// Relax if better path found
			if d, ok := dist[nb]; !ok || newDist < d {
				dist[nb] = newDist
				prev[nb] = current
				heap.Push(h, dijkstraEntry{distance: newDist, nid: nb})
			}
		}
	}

	if !visited[to] {
		return nil, fmt.Errorf("%d to %d: %w", from, to, ErrNoPath)
	}

	// Walk back from target, then reverse to source-to-target order
	nids := []int64{to}
	for current := to; current != from; {
		current = prev[current]
		nids = append(nids, current)
	}
	for i, j := 0, len(nids)-1; i < j; i, j = i+1, j-1 {
		nids[i], nids[j] = nids[j], nids[i]
	}
	return &Path{Nids: nids, Length: dist[to]}, nil
}
