package net

import (
	"github.com/mosaicnetworks/tanglesync/src/packet"
	"github.com/mosaicnetworks/tanglesync/src/peers"
)

// Inbound is a frame received from a peer. The payload has been read in full
// but not validated.
type Inbound struct {
	From    peers.ID
	Header  packet.Header
	Payload []byte
}

// Transport provides an interface for network transports to allow a node to
// exchange frames with its neighbours.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns the channel carrying the frames read from all peers.
	// Frames from one peer arrive in the order they were read.
	Consumer() <-chan Inbound

	// Dial opens a connection to address and registers the peer.
	Dial(address string) (peers.ID, error)

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
