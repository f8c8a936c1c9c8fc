package graph

import (
	"sort"

	"neurodb/internal/db"
)

// LoopReport lists edges that lie on a cycle. A traced dendrite is a tree, so
// any loop edge points at a tracing mistake such as a wrong merge.
type LoopReport struct {
	LoopEdges   []db.EdgeKey `json:"loop_edges"`
	LoopNids    []int64      `json:"loop_nids"`
	LoopCount   int          `json:"loop_count"`
	BridgeCount int          `json:"bridge_count"`
}

// ComputeLoops finds bridges with an iterative Tarjan search; every other
// edge is on a cycle.
func ComputeLoops(m *Mirror) (*LoopReport, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	if m.NumNodes() == 0 {
		return &LoopReport{}, nil
	}

	nodeIDs := m.NodeIDs()
	idToIdx := make(map[int64]int, len(nodeIDs))
	for i, id := range nodeIDs {
		idToIdx[id] = i
	}
	n := len(nodeIDs)

	adjIdx := make([][]int, n)
	for i, id := range nodeIDs {
		for _, nb := range m.Neighbors(id) {
			if nb != id {
				adjIdx[i] = append(adjIdx[i], idToIdx[nb])
			}
		}
	}

	disc := make([]int, n)
	low := make([]int, n)
	visited := make([]bool, n)
	isBridge := make(map[db.EdgeKey]bool)
	counter := 1

	const noParent = -1

	type frame struct {
		node, parent, ni int
	}

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}

		visited[start] = true
		disc[start] = counter
		low[start] = counter
		counter++

		stack := []frame{{start, noParent, 0}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			node := top.node
			parent := top.parent

			if top.ni < len(adjIdx[node]) {
				child := adjIdx[node][top.ni]
				top.ni++

				// simple graph: skipping the parent index skips exactly the tree edge
				if child == parent {
					continue
				}

				if visited[child] {
					if disc[child] < low[node] {
						low[node] = disc[child]
					}
				} else {
					visited[child] = true
					disc[child] = counter
					low[child] = counter
					counter++
					stack = append(stack, frame{child, node, 0})
				}
			} else {
				stack = stack[:len(stack)-1]

				if len(stack) > 0 {
					pn := stack[len(stack)-1].node
					if low[node] < low[pn] {
						low[pn] = low[node]
					}
					if low[node] > disc[pn] {
						isBridge[db.NewEdgeKey(nodeIDs[pn], nodeIDs[node])] = true
					}
				}
			}
		}
	}

	report := &LoopReport{BridgeCount: len(isBridge)}
	onLoop := make(map[int64]bool)
	for _, e := range m.Edges() {
		k := e.Key()
		if isBridge[k] {
			continue
		}
		report.LoopEdges = append(report.LoopEdges, k)
		onLoop[k.Src] = true
		onLoop[k.Dst] = true
	}
	for nid := range onLoop {
		report.LoopNids = append(report.LoopNids, nid)
	}
	sort.Slice(report.LoopNids, func(i, j int) bool { return report.LoopNids[i] < report.LoopNids[j] })
	report.LoopCount = len(report.LoopEdges)
	return report, nil
}
