// Package metrics keeps the live health picture of one instance.
//
// A Collector is created once per process and passed to whatever records or
// reads it. Requests are bracketed by RecordStart and RecordCompletion, usually
// through Middleware, and every completion updates three bounded windows:
//   - the last 20 latencies, from which jitter (population variance) is derived
//   - the last 10 errors, serialized as {"message","timestamp"} records
//   - the last 100 (in-flight, latency) pairs, from which the safe concurrency
//     ceiling is derived
//
// Snapshot recomputes the derived values on demand and Handler serves them as
// {"metrics": {...}} for peers that score this instance:
//
//	collector := metrics.NewCollector(metrics.Options{Priority: metrics.PriorityCritical})
//	mux.Handle("/", collector.Middleware(app))
//	mux.Handle("/metrics", collector.Handler())
package metrics
