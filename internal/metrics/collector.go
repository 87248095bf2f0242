package metrics

import (
	"encoding/json"
	"errors"
	"runtime"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultLatencyWindow      = 20
	DefaultErrorWindow        = 10
	DefaultConcurrencyWindow  = 100
	DefaultLatencyThreshold   = 500 * time.Millisecond
	DefaultErrorRateThreshold = 0.05
)

var errRequestFailed = errors.New("request failed")

// Options configures a Collector. Zero values fall back to the defaults above.
type Options struct {
	Priority           Priority
	LatencyThreshold   time.Duration
	ErrorRateThreshold float64
	LatencyWindow      int
	ErrorWindow        int
	ConcurrencyWindow  int

	// MemoryUsage reports the fraction of memory in use, in [0,1].
	// Defaults to the Go runtime heap statistics.
	MemoryUsage func() float64
	Now         func() time.Time
}

// Sample is what one finished request contributes.
type Sample struct {
	Duration     time.Duration
	ResponseSize int64
	Succeeded    bool
}

// ConcurrencyLatency pairs the in-flight count seen when a request finished
// with that request's latency in milliseconds.
type ConcurrencyLatency struct {
	Concurrent int     `json:"concurrent"`
	Latency    float64 `json:"latency"`
}

type errorRecord struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Collector owns the counters and rolling windows of a single process. All
// mutation goes through RecordStart and RecordCompletion, serialized by mutex.
type Collector struct {
	mutex         sync.Mutex
	opts          Options
	startTime     time.Time
	totalRequests int64
	totalErrors   int64
	concurrent    int
	lastLatency   float64
	lastBandwidth float64
	latencies     *Window[float64]
	recentErrors  *Window[string]
	concurrency   *Window[ConcurrencyLatency]
}

func NewCollector(opts Options) *Collector {
	if opts.Priority == "" {
		opts.Priority = PriorityNormal
	}
	if opts.LatencyThreshold <= 0 {
		opts.LatencyThreshold = DefaultLatencyThreshold
	}
	if opts.ErrorRateThreshold <= 0 {
		opts.ErrorRateThreshold = DefaultErrorRateThreshold
	}
	if opts.LatencyWindow <= 0 {
		opts.LatencyWindow = DefaultLatencyWindow
	}
	if opts.ErrorWindow <= 0 {
		opts.ErrorWindow = DefaultErrorWindow
	}
	if opts.ConcurrencyWindow <= 0 {
		opts.ConcurrencyWindow = DefaultConcurrencyWindow
	}
	if opts.MemoryUsage == nil {
		opts.MemoryUsage = runtimeMemoryUsage
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Collector{
		opts:         opts,
		startTime:    opts.Now(),
		latencies:    NewWindow[float64](opts.LatencyWindow),
		recentErrors: NewWindow[string](opts.ErrorWindow),
		concurrency:  NewWindow[ConcurrencyLatency](opts.ConcurrencyWindow),
	}
}

// RecordStart marks a request as accepted.
func (c *Collector) RecordStart() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.totalRequests++
	c.concurrent++
}

// RecordCompletion folds a finished request into the rolling state. A
// completion without a matching start leaves the in-flight count at zero.
// A sample that did not succeed counts as an error even when err is nil.
func (c *Collector) RecordCompletion(sample Sample, err error) {
	latency := durationMillis(sample.Duration)
	now := c.opts.Now()

	if err == nil && !sample.Succeeded {
		err = errRequestFailed
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	observed := c.concurrent
	if c.concurrent > 0 {
		c.concurrent--
	}

	if err != nil {
		c.totalErrors++
		c.recentErrors.Push(encodeErrorRecord(err, now))
	}

	c.latencies.Push(latency)
	c.concurrency.Push(ConcurrencyLatency{Concurrent: observed, Latency: latency})
	c.lastLatency = latency
	c.lastBandwidth = Bandwidth(sample.ResponseSize, latency)
}

// InFlight returns the number of requests started but not yet completed.
func (c *Collector) InFlight() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.concurrent
}

// Snapshot derives the current health view. It does not mutate state.
func (c *Collector) Snapshot() Snapshot {
	memory := c.opts.MemoryUsage()
	now := c.opts.Now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	errorRate := ErrorRate(c.totalErrors, c.totalRequests)
	threshold := durationMillis(c.opts.LatencyThreshold)

	return Snapshot{
		Latency:            c.lastLatency,
		Jitter:             Jitter(c.latencies.Values()),
		Uptime:             now.Sub(c.startTime).Seconds(),
		MemoryUsedFraction: memory,
		Bandwidth:          c.lastBandwidth,
		ErrorRate:          errorRate,
		TotalErrors:        c.totalErrors,
		RecentErrors:       c.recentErrors.Values(),
		SafeConcurrency:    SafeConcurrency(c.concurrency.Values(), threshold, errorRate, c.opts.ErrorRateThreshold),
		ConcurrentRequests: c.concurrent,
		TotalRequests:      c.totalRequests,
		Priority:           c.opts.Priority,
	}
}

// Jitter is the population variance of the latencies, 0 for an empty history.
func Jitter(latencies []float64) float64 {
	if len(latencies) == 0 {
		return 0
	}

	// identical samples have no spread; skip the rounding noise of the mean
	if !slices.ContainsFunc(latencies, func(v float64) bool { return v != latencies[0] }) {
		return 0
	}

	return stat.PopVariance(latencies, nil)
}

// Bandwidth is bytes per second over latencyMs, 0 for non-positive durations.
func Bandwidth(responseSize int64, latencyMs float64) float64 {
	if latencyMs <= 0 {
		return 0
	}
	return float64(responseSize) / (latencyMs / 1000)
}

// ErrorRate is errors over requests, 0 when nothing was requested.
func ErrorRate(totalErrors, totalRequests int64) float64 {
	if totalRequests <= 0 {
		return 0
	}
	return float64(totalErrors) / float64(totalRequests)
}

// SafeConcurrency is the highest in-flight count observed on a request that
// finished under latencyThresholdMs, provided the current error rate is below
// errorRateThreshold. It is 0 when nothing qualifies.
func SafeConcurrency(history []ConcurrencyLatency, latencyThresholdMs, errorRate, errorRateThreshold float64) int {
	if errorRate >= errorRateThreshold {
		return 0
	}

	safe := 0
	for _, entry := range history {
		if entry.Latency < latencyThresholdMs && entry.Concurrent > safe {
			safe = entry.Concurrent
		}
	}

	return safe
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func encodeErrorRecord(err error, at time.Time) string {
	record, marshalErr := json.Marshal(errorRecord{
		Message:   err.Error(),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	})
	if marshalErr != nil {
		return err.Error()
	}
	return string(record)
}

func runtimeMemoryUsage() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	if stats.HeapSys == 0 {
		return 0
	}
	return float64(stats.HeapInuse) / float64(stats.HeapSys)
}
