// Package backend describes the upstream instances the proxy dispatches to.
// A Backend carries its immutable address and priority together with the
// in-flight and forward-time bookkeeping kept by the proxy.
package backend
