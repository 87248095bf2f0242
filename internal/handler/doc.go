// Package handler is the proxy entrypoint. For each request it asks the
// load balancer for a ranking, forwards to the winner and, when the winner
// cannot be reached, replays the request against the next candidate. JSON
// object responses gain a "proxy" field naming the backend that served them.
package handler
