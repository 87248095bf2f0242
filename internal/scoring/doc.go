// Package scoring turns a health snapshot into a single comparable number.
//
//	score = 0.30 * avg(latency, jitter, availability)
//	      + 0.25 * resource
//	      + 0.20 * errorRate
//	      + 0.15 * concurrency
//	      + 0.10 * priority
//
// Latency is normalized against 1000ms, jitter against 500ms, uptime against one
// hour and safe concurrency against 100 in-flight requests.
package scoring
