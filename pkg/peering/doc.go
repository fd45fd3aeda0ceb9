// Package peering assembles the network's peer address table. The
// coordinator fetches each ready peer's identity over its control
// endpoint and fails closed: a table missing any bootstrap entry is
// never returned. General peers are included opportunistically and
// picked up on a later pass when they lag.
package peering
