package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Priority is the operator-assigned importance of an instance.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

// ParsePriority maps free-form input onto a known priority. Anything that is
// not recognisably "critical" is normal.
func ParsePriority(value string) Priority {
	if strings.EqualFold(strings.TrimSpace(value), string(PriorityCritical)) {
		return PriorityCritical
	}
	return PriorityNormal
}

// Snapshot is the point-in-time health of one instance. Latency and Jitter are
// in milliseconds, Uptime in seconds, Bandwidth in bytes per second.
//
// Snapshots decoded from a remote instance carry NaN for numeric fields that
// were missing or could not be parsed.
type Snapshot struct {
	Latency            float64
	Jitter             float64
	Uptime             float64
	MemoryUsedFraction float64
	Bandwidth          float64
	ErrorRate          float64
	TotalErrors        int64
	RecentErrors       []string
	SafeConcurrency    int
	ConcurrentRequests int
	TotalRequests      int64
	Priority           Priority
}

// Envelope is the body served by GET /metrics.
type Envelope struct {
	Metrics *Snapshot `json:"metrics"`
}

type snapshotJSON struct {
	Latency            string   `json:"latency"`
	Jitter             string   `json:"jitter"`
	Uptime             any      `json:"uptime"`
	MemoryUsedFraction any      `json:"memoryUsedFraction"`
	Bandwidth          any      `json:"bandwidth"`
	ErrorRate          any      `json:"errorRate"`
	TotalErrors        int64    `json:"totalErrors"`
	RecentErrors       []string `json:"recentErrors"`
	SafeConcurrency    int      `json:"safeConcurrency"`
	ConcurrentRequests int      `json:"concurrentRequests"`
	TotalRequests      int64    `json:"totalRequests"`
	Priority           Priority `json:"priority"`
}

type memoryUsageJSON struct {
	HeapUsed  json.RawMessage `json:"heapUsed"`
	HeapTotal json.RawMessage `json:"heapTotal"`
}

type snapshotWire struct {
	Latency            json.RawMessage  `json:"latency"`
	Jitter             json.RawMessage  `json:"jitter"`
	Uptime             json.RawMessage  `json:"uptime"`
	MemoryUsedFraction json.RawMessage  `json:"memoryUsedFraction"`
	MemoryUsage        *memoryUsageJSON `json:"memoryUsage"`
	Bandwidth          json.RawMessage  `json:"bandwidth"`
	ErrorRate          json.RawMessage  `json:"errorRate"`
	TotalErrors        json.RawMessage  `json:"totalErrors"`
	RecentErrors       json.RawMessage  `json:"recentErrors"`
	SafeConcurrency    json.RawMessage  `json:"safeConcurrency"`
	ConcurrentRequests json.RawMessage  `json:"concurrentRequests"`
	TotalRequests      json.RawMessage  `json:"totalRequests"`
	Priority           json.RawMessage  `json:"priority"`
}

// MarshalJSON renders latency and jitter as "<n>ms" strings.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	recent := s.RecentErrors
	if recent == nil {
		recent = []string{}
	}

	return json.Marshal(snapshotJSON{
		Latency:            formatMillis(s.Latency, 0),
		Jitter:             formatMillis(s.Jitter, 2),
		Uptime:             finite(s.Uptime),
		MemoryUsedFraction: finite(s.MemoryUsedFraction),
		Bandwidth:          finite(s.Bandwidth),
		ErrorRate:          finite(s.ErrorRate),
		TotalErrors:        s.TotalErrors,
		RecentErrors:       recent,
		SafeConcurrency:    s.SafeConcurrency,
		ConcurrentRequests: s.ConcurrentRequests,
		TotalRequests:      s.TotalRequests,
		Priority:           s.Priority,
	})
}

// UnmarshalJSON is lenient about individual fields and strict about shape:
// anything but a JSON object is an error, while a field of the wrong type
// decodes to its worst case.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var wire snapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	*s = Snapshot{
		Latency:            decodeNumber(wire.Latency),
		Jitter:             decodeNumber(wire.Jitter),
		Uptime:             decodeNumber(wire.Uptime),
		MemoryUsedFraction: decodeNumber(wire.MemoryUsedFraction),
		Bandwidth:          decodeNumber(wire.Bandwidth),
		ErrorRate:          decodeNumber(wire.ErrorRate),
		TotalErrors:        decodeCount(wire.TotalErrors),
		SafeConcurrency:    int(decodeCount(wire.SafeConcurrency)),
		ConcurrentRequests: int(decodeCount(wire.ConcurrentRequests)),
		TotalRequests:      decodeCount(wire.TotalRequests),
		Priority:           PriorityNormal,
	}

	if math.IsNaN(s.MemoryUsedFraction) && wire.MemoryUsage != nil {
		used := decodeNumber(wire.MemoryUsage.HeapUsed)
		total := decodeNumber(wire.MemoryUsage.HeapTotal)
		if total > 0 {
			s.MemoryUsedFraction = used / total
		}
	}

	var recent []string
	if err := json.Unmarshal(wire.RecentErrors, &recent); err == nil {
		s.RecentErrors = recent
	}

	var priority string
	if err := json.Unmarshal(wire.Priority, &priority); err == nil {
		s.Priority = ParsePriority(priority)
	}

	return nil
}

// ParseMillis reads values such as "123ms", "12.50ms" or "87". The suffix is
// optional; anything unparseable yields NaN.
func ParseMillis(value string) float64 {
	value = strings.TrimSpace(value)
	value = strings.TrimSpace(strings.TrimSuffix(value, "ms"))

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func formatMillis(v float64, precision int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', precision, 64) + "ms"
}

func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func decodeNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return math.NaN()
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseMillis(s)
	}

	return math.NaN()
}

func decodeCount(raw json.RawMessage) int64 {
	f := decodeNumber(raw)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return int64(f)
}
