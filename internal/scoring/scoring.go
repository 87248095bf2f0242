package scoring

import (
	"fmt"
	"math"

	"github.com/angeloszaimis/scoreproxy/internal/metrics"
)

// Weights of the blended score. They sum to 1.
const (
	ResponsivenessWeight = 0.30
	ResourceWeight       = 0.25
	ErrorRateWeight      = 0.20
	ConcurrencyWeight    = 0.15
	PriorityWeight       = 0.10
)

// Normalization caps. A metric at or beyond its cap earns the extreme sub-score.
// These are tunable defaults, not derived values.
const (
	LatencyCapMs     = 1000.0
	JitterCapMs      = 500.0
	UptimeCapSeconds = 3600.0
	ConcurrencyCap   = 100.0
)

const (
	criticalPriority = 1.0
	normalPriority   = 0.5
)

// Score blends a snapshot into [0,1]; higher is better. Each sub-score is
// clamped to [0,1] before weighting and a NaN or infinite metric earns its
// worst sub-score, so an unreadable snapshot steers traffic away.
func Score(s metrics.Snapshot) float64 {
	latency := penalty(s.Latency / LatencyCapMs)
	jitter := penalty(s.Jitter / JitterCapMs)
	availability := reward(s.Uptime / UptimeCapSeconds)
	resource := penalty(s.MemoryUsedFraction)
	errorRate := penalty(s.ErrorRate)
	concurrency := reward(float64(s.SafeConcurrency) / ConcurrencyCap)

	priority := normalPriority
	if s.Priority == metrics.PriorityCritical {
		priority = criticalPriority
	}

	total := ResponsivenessWeight*((latency+jitter+availability)/3) +
		ResourceWeight*resource +
		ErrorRateWeight*errorRate +
		ConcurrencyWeight*concurrency +
		PriorityWeight*priority

	return clamp(total)
}

// FormatPoints renders a score the way the proxy envelope reports it.
func FormatPoints(score float64) string {
	return fmt.Sprintf("%dpts.", int(math.Round(clamp(score)*100)))
}

// reward maps a higher-is-better ratio onto [0,1].
func reward(ratio float64) float64 {
	if !isFinite(ratio) {
		return 0
	}
	return clamp(ratio)
}

// penalty maps a lower-is-better ratio onto [0,1].
func penalty(ratio float64) float64 {
	if !isFinite(ratio) {
		return 0
	}
	return clamp(1 - ratio)
}

func clamp(v float64) float64 {
	if !isFinite(v) {
		return 0
	}
	return math.Max(0, math.Min(v, 1))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
