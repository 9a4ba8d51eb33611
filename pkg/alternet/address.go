package alternet

import "github.com/omochice/alternet/pkg/peer"

// RemoteAddress identifies a peer by host and port. It is comparable and is
// the key every send and event uses.
type RemoteAddress = peer.Address

// ParseAddress parses a "host:port" string.
func ParseAddress(s string) (RemoteAddress, error) {
	return peer.Parse(s)
}
