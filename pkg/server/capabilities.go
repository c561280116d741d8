package server

import "strings"

// Capability flags tell a driver which call pattern a server expects.
type Capability uint32

const (
	CapBase      Capability = 1
	CapExtended  Capability = 2
	CapReserved1 Capability = 4
	CapReserved2 Capability = 8
	CapDatagram  Capability = 32
	CapStream    Capability = 64
	CapTLS       Capability = 128
	CapHTTP      Capability = 256
)

var capabilityNames = []struct {
	flag Capability
	name string
}{
	{CapBase, "base"},
	{CapExtended, "extended"},
	{CapReserved1, "reserved1"},
	{CapReserved2, "reserved2"},
	{CapDatagram, "datagram"},
	{CapStream, "stream"},
	{CapTLS, "tls"},
	{CapHTTP, "http"},
}

// Has reports whether every flag in f is set.
func (c Capability) Has(f Capability) bool {
	return c&f == f
}

func (c Capability) String() string {
	var names []string
	for _, n := range capabilityNames {
		if c.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
