// Package datagram implements the packet-oriented server variant.
//
// A driver hands each received packet to OnPacketWrite together with the
// peer address; the server remembers the address and passes the packet to
// its Handler. Replies queued with Send come back out of OnPacketRead in
// FIFO order, each addressed to the most recent peer.
package datagram
