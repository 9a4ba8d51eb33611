// Package peer identifies the remote side of a connection.
package peer

import (
	"fmt"
	"net"
	"strconv"
)

// Address identifies a peer by host and port. It is comparable and used as
// the connection registry key.
type Address struct {
	Host string
	Port int
}

// FromTCPAddr converts a resolved TCP address.
func FromTCPAddr(a *net.TCPAddr) Address {
	if a == nil {
		return Address{}
	}
	return Address{Host: a.IP.String(), Port: a.Port}
}

// FromNetAddr converts any net.Addr, falling back to parsing its string form.
func FromNetAddr(a net.Addr) Address {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return FromTCPAddr(tcp)
	}
	if a == nil {
		return Address{}
	}
	addr, err := Parse(a.String())
	if err != nil {
		return Address{Host: a.String()}
	}
	return addr
}

// Parse parses "host:port".
func Parse(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("failed to parse address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, fmt.Errorf("failed to parse address %q: invalid port", s)
	}
	return Address{Host: host, Port: port}, nil
}

// String returns the address in "host:port" form.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a == Address{}
}
