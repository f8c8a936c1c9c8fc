package db

import (
	"fmt"
	"time"
)

// Node review states
const (
	Rejected   = -1
	Unverified = 0
	Verified   = 1
)

// Node types
const (
	TypeGeneric = 0
	TypeSoma    = 1
)

// Node visibility
const (
	StatusHidden = 0
	StatusShown  = 1
)

// SegmentCreator labels nodes and edges generated from segment ingestion
const SegmentCreator = "seger"

// Coord is a 3-D integer voxel coordinate (x, y, z)
type Coord [3]int64

// Node represents a row in the nodes table
type Node struct {
	Nid     int64     `json:"nid"`
	Coord   Coord     `json:"coord"`
	Creator string    `json:"creator"`
	Type    int       `json:"type"`    // 1 soma, 0 generic
	Checked int       `json:"checked"` // -1 rejected, 0 unverified, 1 verified
	Status  int       `json:"status"`  // 1 shown, 0 hidden (removed)
	Sid     *int64    `json:"sid,omitempty"`
	Date    time.Time `json:"date"`
}

// Edge represents a row in the edges table. Persisted edges satisfy Src <= Dst.
type Edge struct {
	Src     int64     `json:"src"`
	Dst     int64     `json:"dst"`
	Creator string    `json:"creator"`
	Date    time.Time `json:"date"`
}

// Key returns the canonical pair for the edge
func (e Edge) Key() EdgeKey {
	return NewEdgeKey(e.Src, e.Dst)
}

// EdgeKey is an unordered node pair in canonical form (Src <= Dst)
type EdgeKey struct {
	Src int64
	Dst int64
}

// NewEdgeKey orders a and b so the smaller id comes first
func NewEdgeKey(a, b int64) EdgeKey {
	if a > b {
		a, b = b, a
	}
	return EdgeKey{Src: a, Dst: b}
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("(%d,%d)", k.Src, k.Dst)
}

// Segment represents a row in the segs table
type Segment struct {
	Sid           int64     `json:"sid"`
	Points        []Coord   `json:"points"`
	SampledPoints []Coord   `json:"sampled_points"`
	Version       int64     `json:"version"` // managed store only
	Date          time.Time `json:"date"`
}

// SegmentInput is one traced polyline handed to IngestSegments
type SegmentInput struct {
	Points        []Coord `json:"points" yaml:"points"`
	SampledPoints []Coord `json:"sampled_points" yaml:"sampled_points"`
}

// IngestResult holds everything IngestSegments wrote
type IngestResult struct {
	Segments []Segment
	Nodes    []Node
	Edges    []Edge
	Version  int64
}

// NodeUpdate carries the optional fields of a partial node update.
// Nil fields are left untouched. A zero Date means "now".
type NodeUpdate struct {
	Creator *string
	Type    *int
	Checked *int
	Status  *int
	Date    time.Time
}

// Empty reports whether no field is supplied
func (u NodeUpdate) Empty() bool {
	return u.Creator == nil && u.Type == nil && u.Checked == nil && u.Status == nil
}

// Differs reports whether applying u would change n
func (u NodeUpdate) Differs(n Node) bool {
	return (u.Creator != nil && *u.Creator != n.Creator) ||
		(u.Type != nil && *u.Type != n.Type) ||
		(u.Checked != nil && *u.Checked != n.Checked) ||
		(u.Status != nil && *u.Status != n.Status)
}

// Apply writes the supplied fields and date into n
func (u NodeUpdate) Apply(n *Node, date time.Time) {
	if u.Creator != nil {
		n.Creator = *u.Creator
	}
	if u.Type != nil {
		n.Type = *u.Type
	}
	if u.Checked != nil {
		n.Checked = *u.Checked
	}
	if u.Status != nil {
		n.Status = *u.Status
	}
	n.Date = date
}

// ROI is an axis-aligned box given by an offset and a size
type ROI struct {
	Offset Coord
	Size   Coord
}

// ParseROI reads the [x0, y0, z0, dx, dy, dz] form
func ParseROI(v []int64) (ROI, error) {
	if len(v) != 6 {
		return ROI{}, fmt.Errorf("roi needs 6 values [x0,y0,z0,dx,dy,dz], got %d", len(v))
	}
	return ROI{
		Offset: Coord{v[0], v[1], v[2]},
		Size:   Coord{v[3], v[4], v[5]},
	}, nil
}

// Now returns the current time as stored by both backends (UTC, microseconds)
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// stampOr returns t in UTC, or now when t is zero. Offset zones do not
// survive the embedded driver's text encoding.
func stampOr(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t.UTC()
}

// Int and Str build pointers for NodeUpdate literals
func Int(v int) *int       { return &v }
func Str(v string) *string { return &v }
