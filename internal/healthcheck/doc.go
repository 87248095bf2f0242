// Package healthcheck probes backend metrics endpoints in the background.
// Dispatch never depends on it; it only keeps health state warm between
// requests.
package healthcheck
