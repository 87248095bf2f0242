// Package config loads the proxy configuration from a .env file, an optional
// config.yaml and the environment, and validates it before anything starts.
// Invalid configuration, including an empty backend list, is a startup error.
package config
