package server

import (
	"errors"
	"fmt"

	"mercator-hq/callisto/pkg/datagram"
	"mercator-hq/callisto/pkg/stream"
)

// ErrNoHandler is returned by a Factory that serves no such hostname.
var ErrNoHandler = errors.New("no server for hostname")

// Server is anything a driver can be handed.
type Server interface {
	Capabilities() Capability
}

// StreamServer is driven with per-connection ordered bytes.
type StreamServer interface {
	Server

	// OnConnect opens connection id, accepted on port.
	OnConnect(id stream.ID, port uint16) error

	// OnDisconnect marks id disconnected. Queued output stays pollable.
	OnDisconnect(id stream.ID)

	// OnInboundBytes hands received bytes to the pipeline. It returns
	// false when they were dropped.
	OnInboundBytes(id stream.ID, buf []byte) bool

	// OnOutboundPoll fills buf with queued output and returns the count,
	// 0 when nothing is pending.
	OnOutboundPoll(id stream.ID, buf []byte) int

	// Retire forgets id entirely.
	Retire(id stream.ID)
}

// PacketServer is driven with address-qualified packets.
type PacketServer interface {
	Server
	OnPacketWrite(from datagram.Address, packet []byte) bool
	OnPacketRead(buf []byte) (to datagram.Address, n int, ok bool)
}

// Factory creates the server for a hostname the driver resolved.
type Factory interface {
	Create(hostname string, id stream.ID) (Server, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(hostname string, id stream.ID) (Server, error)

// Create implements Factory.
func (f FactoryFunc) Create(hostname string, id stream.ID) (Server, error) {
	return f(hostname, id)
}

// StaticFactory serves a fixed table of exact hostnames.
type StaticFactory map[string]Server

// Create implements Factory.
func (f StaticFactory) Create(hostname string, _ stream.ID) (Server, error) {
	s, ok := f[hostname]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, hostname)
	}
	return s, nil
}

// PacketHost exposes a datagram.Server to drivers.
type PacketHost struct {
	*datagram.Server
}

// NewPacketHost wraps s.
func NewPacketHost(s *datagram.Server) *PacketHost {
	return &PacketHost{Server: s}
}

// Capabilities implements Server.
func (h *PacketHost) Capabilities() Capability {
	return CapBase | CapDatagram
}
