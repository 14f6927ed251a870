// Package node implements the sync coordinator of a tanglesync node.
//
// The Node consumes the frames read by the transport from every neighbour, in
// a single dispatcher goroutine. Each frame is validated by the packet codec
// before anything else happens; a frame that fails validation is dropped and
// counted as misbehaviour of the peer that sent it. Valid packets are handled
// according to their kind:
//
//  Message           unpacked and inserted into the tangle. Pending requests
//                    for it, and for its milestone if it carries one, are
//                    satisfied. Its missing parents are requested.
//  MessageRequest    answered with the message, if we have it.
//  MilestoneRequest  answered with the milestone message, if we have it.
//                    Index 0 asks for the latest milestone.
//  Heartbeat         recorded on the peer. Milestones the peer has and we do
//                    not are requested, at most MilestoneRequestWindow ahead of
//                    our solid milestone.
//
// Requests go through two request.Trackers, one for message ids and one for
// milestone indexes, which de-duplicate and retry them.
//
// A ControlTimer paces the heartbeat broadcast. On every tick the node also
// disconnects the peers that stayed silent for longer than PeerTimeout.
//
// Subscribers registered with SubscribeSyncStatus are told about every change
// of the latest or solid milestone index.
package node
