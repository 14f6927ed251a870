// Package peers keeps track of the neighbours a node is connected to.
//
// Every accepted or dialed connection becomes an Entry in the Registry. An
// entry groups the Peer (its identity, address and the contents of its last
// heartbeat) with the Sender feeding the connection's write loop and the
// Shutdown handle that tells the connection's goroutines to stop.
//
// The Registry keeps a lookup map and a fairness-ordered list of the same
// entries behind a single lock, so a reader can never observe one without
// the other. Select walks the list from a rotating cursor, which spreads
// outgoing requests across neighbours.
//
// Upon starting up, a node may read a peers.json file from its data directory
// listing the addresses it should dial. See JSONPeers.
package peers
