// Package loadbalancer turns a strategy's ranking into a reservation on the
// chosen backend.
package loadbalancer
