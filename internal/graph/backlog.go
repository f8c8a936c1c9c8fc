package graph

import (
	"sort"
	"time"

	"neurodb/internal/db"
)

// PendingNode is a node that has waited for review longer than the cutoff
type PendingNode struct {
	Nid             int64  `json:"nid"`
	Creator         string `json:"creator"`
	DaysSinceUpdate int64  `json:"days_since_update"`
	Leaf            bool   `json:"leaf"`
}

// BacklogReport summarizes unverified work older than the cutoff
type BacklogReport struct {
	Pending      []PendingNode `json:"pending"`
	PendingCount int           `json:"pending_count"`

	// LeafCount counts pending ends; each one blocks its whole component from annotation
	LeafCount int `json:"leaf_count"`
}

// ComputeBacklog finds unverified nodes not touched for staleDays, oldest first
func ComputeBacklog(m *Mirror, staleDays int64, now time.Time, topN int) (*BacklogReport, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	cutoff := time.Duration(staleDays) * 24 * time.Hour

	var pending []PendingNode
	leaves := 0
	m.nodes.Scan(func(n *db.Node) bool {
		if n.Checked != db.Unverified || n.Date.IsZero() {
			return true
		}
		age := now.Sub(n.Date)
		if age <= cutoff {
			return true
		}
		leaf := m.Degree(n.Nid) == 1
		if leaf {
			leaves++
		}
		pending = append(pending, PendingNode{
			Nid:             n.Nid,
			Creator:         n.Creator,
			DaysSinceUpdate: int64(age / (24 * time.Hour)),
			Leaf:            leaf,
		})
		return true
	})
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].DaysSinceUpdate > pending[j].DaysSinceUpdate
	})

	count := len(pending)
	if len(pending) > topN {
		pending = pending[:topN]
	}
	return &BacklogReport{Pending: pending, PendingCount: count, LeafCount: leaves}, nil
}
