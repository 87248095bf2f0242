// Package httpserver runs an http.Server with validated address, bounded
// timeouts and graceful shutdown.
package httpserver
