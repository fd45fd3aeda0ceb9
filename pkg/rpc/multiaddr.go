package rpc

import (
	"net"
	"strings"
)

// P2PAddresses filters a peer's advertised multiaddresses down to the
// ones other peers can dial and appends the /p2p/<id> suffix to each.
// An address qualifies when it carries a non-loopback ip4 component;
// loopback-only and non-ip4 addresses are dropped. Returns nil when no
// address qualifies.
func P2PAddresses(id string, addrs []string) []string {
	var out []string
	for _, addr := range addrs {
		if !dialable(addr) {
			continue
		}
		out = append(out, addr+"/p2p/"+id)
	}
	return out
}

// dialable reports whether the multiaddress carries a non-loopback ip4
// component. Multiaddresses are /proto/value sequences, but protocols
// without a value (quic-v1, ws, …) shift the pairing, so every segment
// is checked for an ip4 marker rather than assuming a fixed stride.
func dialable(addr string) bool {
	parts := strings.Split(addr, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] != "ip4" {
			continue
		}
		ip := net.ParseIP(parts[i+1])
		if ip == nil {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return true
		}
	}
	return false
}
