// Package registry holds the configured backends and fetches their health
// snapshots over HTTP. A fetch either returns a decoded snapshot or an error
// wrapping ErrBackendUnavailable or ErrMalformedSnapshot; callers score both
// the same way.
package registry
