// Package strategy decides, per request, the order in which backends are
// tried.
//
//   - Score: fetch every backend's health snapshot in parallel, score it and
//     rank by descending score, ties in configured order
//   - Round Robin: rotate through the configured list regardless of health
//
// The two are mutually exclusive and chosen by configuration. Both return a
// full Ranking so the proxy can fall back to the next backend when the
// winner cannot be reached.
package strategy
