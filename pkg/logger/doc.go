// Package logger builds the slog.Logger shared by the proxy and backend
// binaries.
package logger
