// Package net connects a node to its neighbours.
//
// A NetworkTransport accepts and dials connections through a StreamLayer
// (plain TCP in practice). Every connection is registered in a
// peers.Registry and served by two goroutines. The read loop cuts the byte
// stream into frames ([type:1][length:2 LE][payload]) and pushes them, tagged
// with the peer ID, on the transport's consumer channel. The write loop drains
// the peer's Sender and writes the queued frames to the socket.
//
// Firing the peer's Shutdown handle, a read or write error, or closing the
// transport ends both loops; the peer is then removed from the registry and
// its Sender closed.
//
// To use the TCP transport, set the following configuration options in the
// Config object (cf config package):
//
// - BindAddr: the IP:PORT of the TCP socket that the node binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other nodes.
// If BindAddr is a local address not reachable by other peers, it is useful to
// set AdvertiseAddr to the reachable public address.
package net
