package graph

import (
	"math"
	"time"
)

// ScoreBreakdown shows the sub-scores of the tracing quality formula
type ScoreBreakdown struct {
	Coverage  float64 `json:"coverage"`
	Isolation float64 `json:"isolation"`
	Loops     float64 `json:"loops"`
	Backlog   float64 `json:"backlog"`
}

// AnalysisReport is the full analysis result
type AnalysisReport struct {
	Session      string          `json:"session"`
	Score        float64         `json:"score"`
	Breakdown    ScoreBreakdown  `json:"breakdown"`
	Annotations  []Annotation    `json:"annotations"`
	TracedLength float64         `json:"traced_length"`
	Topology     *TopologyReport `json:"topology"`
	Loops        *LoopReport     `json:"loops"`
	Backlog      *BacklogReport  `json:"backlog"`
}

// AnalyzerConfig holds analysis parameters
type AnalyzerConfig struct {
	LenThreshold int   `koanf:"len_threshold"`
	HubThreshold int   `koanf:"hub_threshold"`
	TopN         int   `koanf:"top_n"`
	StaleDays    int64 `koanf:"stale_days"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		LenThreshold: 2,
		HubThreshold: 3,
		TopN:         50,
		StaleDays:    30,
	}
}

// Analyze runs all analyses and computes a composite score
func Analyze(m *Mirror, config *AnalyzerConfig) (*AnalysisReport, error) {
	if config == nil {
		config = DefaultConfig()
	}
	annotations, err := m.Annotations(config.LenThreshold)
	if err != nil {
		return nil, err
	}
	topology, err := ComputeTopology(m, config.HubThreshold, config.TopN)
	if err != nil {
		return nil, err
	}
	loops, err := ComputeLoops(m)
	if err != nil {
		return nil, err
	}
	backlog, err := ComputeBacklog(m, config.StaleDays, time.Now(), config.TopN)
	if err != nil {
		return nil, err
	}

	var traced float64
	for _, e := range m.Edges() {
		a, _ := m.Node(e.Src)
		b, _ := m.Node(e.Dst)
		traced += edgeLength(a.Coord, b.Coord)
	}

	total := float64(topology.TotalNodes)
	var coverage, isolation, loopScore, backlogScore float64

	if total > 0 {
		coverage = clamp(float64(topology.Review.Verified)/total, 0, 1)
		isolation = clamp(1.0-math.Min(float64(topology.IsolatedCount)/total, 0.2)*5.0, 0, 1)
		backlogScore = clamp(1.0-math.Min(float64(backlog.PendingCount)/total, 0.1)*10.0, 0, 1)
	}
	if edges := float64(topology.TotalEdges); edges > 0 {
		loopScore = clamp(1.0-math.Min(float64(loops.LoopCount)/edges, 0.05)*20.0, 0, 1)
	} else if total > 0 {
		loopScore = 1
	}

	score := 0.40*coverage + 0.20*isolation + 0.25*loopScore + 0.15*backlogScore

	return &AnalysisReport{
		Session: m.SessionID(),
		Score:   score,
		Breakdown: ScoreBreakdown{
			Coverage:  coverage,
			Isolation: isolation,
			Loops:     loopScore,
			Backlog:   backlogScore,
		},
		Annotations:  annotations,
		TracedLength: traced,
		Topology:     topology,
		Loops:        loops,
		Backlog:      backlog,
	}, nil
}

func clamp(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
