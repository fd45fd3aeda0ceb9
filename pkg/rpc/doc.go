// Package rpc implements the HTTP clients for the control endpoints the
// operator consumes: the peer control API (identity and swarm status)
// and the simulation manager's run-status endpoint. Both are small
// JSON-over-HTTP surfaces; the interfaces exist so controllers can stub
// them in tests.
package rpc
