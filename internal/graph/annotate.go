package graph

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"neurodb/internal/db"
)

// Annotation describes one connected component that passed review
type Annotation struct {
	Nodes    []int64 `json:"nid"`
	Branches []int64 `json:"branch_nid"`
	Ends     []int64 `json:"end_nid"`
	Length   float64 `json:"length"`
}

// edgeLength is the Euclidean distance between two coordinates
func edgeLength(a, b db.Coord) float64 {
	return floats.Distance(
		[]float64{float64(a[0]), float64(a[1]), float64(a[2])},
		[]float64{float64(b[0]), float64(b[1]), float64(b[2])},
		2,
	)
}

// components groups the mirror's nodes by connectivity
func (m *Mirror) components() *UnionFind {
	uf := NewUnionFind(m.NodeIDs())
	for k := range m.edges {
		uf.Union(k.Src, k.Dst)
	}
	return uf
}

// componentValid reports whether no node is rejected and no leaf is unverified
func (m *Mirror) componentValid(nids []int64) bool {
	for _, nid := range nids {
		n, _ := m.Node(nid)
		if n.Checked == db.Rejected {
			return false
		}
		if m.Degree(nid) == 1 && n.Checked == db.Unverified {
			return false
		}
	}
	return true
}

// Annotations returns one record per connected component with at least
// lenThreshold nodes that passes review, longest first.
func (m *Mirror) Annotations(lenThreshold int) ([]Annotation, error) {
	if err := m.check(); err != nil {
		return nil, err
	}

	uf := m.components()
	lengths := make(map[int64]float64)
	for k := range m.edges {
		a, _ := m.Node(k.Src)
		b, _ := m.Node(k.Dst)
		lengths[uf.Find(k.Src)] += edgeLength(a.Coord, b.Coord)
	}

	var out []Annotation
	for _, comp := range uf.Components() {
		if len(comp) < lenThreshold {
			continue
		}
		if !m.componentValid(comp) {
			continue
		}
		ann := Annotation{
			Nodes:    comp,
			Branches: []int64{},
			Ends:     []int64{},
			Length:   lengths[uf.Find(comp[0])],
		}
		for _, nid := range comp {
			switch d := m.Degree(nid); {
			case d > 2:
				ann.Branches = append(ann.Branches, nid)
			case d == 1:
				ann.Ends = append(ann.Ends, nid)
			}
		}
		out = append(out, ann)
	}

	// components arrive ordered by smallest nid, so ties keep that order
	sort.SliceStable(out, func(i, j int) bool { return out[i].Length > out[j].Length })
	return out, nil
}
