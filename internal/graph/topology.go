package graph

import (
	"sort"

	"neurodb/internal/db"
)

// HubNode is a node with high connectivity, typically a soma or a dense branch point
type HubNode struct {
	Nid    int64    `json:"nid"`
	Coord  db.Coord `json:"coord"`
	Type   int      `json:"type"`
	Degree int      `json:"degree"`
}

// DegreeBucket is one bucket in the degree histogram
type DegreeBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ReviewCounts tallies nodes by checked state
type ReviewCounts struct {
	Verified   int `json:"verified"`
	Unverified int `json:"unverified"`
	Rejected   int `json:"rejected"`
}

// TopologyReport contains topology analysis results
type TopologyReport struct {
	TotalNodes        int            `json:"total_nodes"`
	TotalEdges        int            `json:"total_edges"`
	NumComponents     int            `json:"num_components"`
	LargestComponent  int            `json:"largest_component"`
	SmallestComponent int            `json:"smallest_component"`
	IsolatedCount     int            `json:"isolated_count"`
	IsolatedNids      []int64        `json:"isolated_nids"`
	DegreeHistogram   []DegreeBucket `json:"degree_histogram"`
	Hubs              []HubNode      `json:"hubs"`
	Review            ReviewCounts   `json:"review"`
}

// ComputeTopology analyzes the mirror: components, isolated nodes, degree distribution, hubs
func ComputeTopology(m *Mirror, hubThreshold, topN int) (*TopologyReport, error) {
	if err := m.check(); err != nil {
		return nil, err
	}

	totalNodes := m.NumNodes()
	if totalNodes == 0 {
		return &TopologyReport{
			DegreeHistogram: defaultHistogram(),
		}, nil
	}

	components := m.components().Components()
	largest, smallest := 0, totalNodes
	for _, c := range components {
		if len(c) > largest {
			largest = len(c)
		}
		if len(c) < smallest {
			smallest = len(c)
		}
	}

	var isolated []int64
	var hubs []HubNode
	var review ReviewCounts
	buckets := [7]int{}
	for _, nid := range m.NodeIDs() {
		degree := m.Degree(nid)
		buckets[degreeBucket(degree)]++
		if degree == 0 {
			isolated = append(isolated, nid)
		}

		n, _ := m.Node(nid)
		switch n.Checked {
		case db.Verified:
			review.Verified++
		case db.Rejected:
			review.Rejected++
		default:
			review.Unverified++
		}

		if degree > hubThreshold {
			hubs = append(hubs, HubNode{Nid: nid, Coord: n.Coord, Type: n.Type, Degree: degree})
		}
	}

	isolatedCount := len(isolated)
	if len(isolated) > topN {
		isolated = isolated[:topN]
	}

	histogram := defaultHistogram()
	for i := range histogram {
		histogram[i].Count = buckets[i]
	}

	sort.SliceStable(hubs, func(i, j int) bool { return hubs[i].Degree > hubs[j].Degree })
	if len(hubs) > topN {
		hubs = hubs[:topN]
	}

	return &TopologyReport{
		TotalNodes:        totalNodes,
		TotalEdges:        m.NumEdges(),
		NumComponents:     len(components),
		LargestComponent:  largest,
		SmallestComponent: smallest,
		IsolatedCount:     isolatedCount,
		IsolatedNids:      isolated,
		DegreeHistogram:   histogram,
		Hubs:              hubs,
		Review:            review,
	}, nil
}

func defaultHistogram() []DegreeBucket {
	return []DegreeBucket{
		{Label: "0"}, {Label: "1"}, {Label: "2"},
		{Label: "3"}, {Label: "4-7"}, {Label: "8-15"}, {Label: "16+"},
	}
}

// degreeBucket separates ends (1), chain nodes (2) and branch points (3+)
func degreeBucket(degree int) int {
	switch {
	case degree <= 3:
		return degree
	case degree <= 7:
		return 4
	case degree <= 15:
		return 5
	default:
		return 6
	}
}
