package peers

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/tanglesync/src/packet"
)

// ID identifies a neighbour. It is the address the neighbour advertises
// during the connection handshake, so every connection to the same node
// carries the same ID.
type ID string

// Peer is a connected neighbour.
type Peer struct {
	id          ID
	address     string
	outbound    bool
	connectedAt time.Time

	misbehaviour uint32

	mtx           sync.RWMutex
	heartbeat     packet.Heartbeat
	lastHeartbeat time.Time
}

// NewPeer ... outbound is true if this node dialed the connection.
func NewPeer(id ID, address string, outbound bool) *Peer {
	return &Peer{
		id:          id,
		address:     address,
		outbound:    outbound,
		connectedAt: time.Now(),
	}
}

// ID returns the connection identifier.
func (p *Peer) ID() ID {
	return p.id
}

// Address returns the remote network address.
func (p *Peer) Address() string {
	return p.address
}

// Outbound reports whether this node dialed the connection.
func (p *Peer) Outbound() bool {
	return p.outbound
}

// ConnectedAt is the time the peer was created.
func (p *Peer) ConnectedAt() time.Time {
	return p.connectedAt
}

// SetHeartbeat records the latest heartbeat received from the peer.
func (p *Peer) SetHeartbeat(hb packet.Heartbeat, at time.Time) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.heartbeat = hb
	p.lastHeartbeat = at
}

// Heartbeat returns the last heartbeat and when it arrived. ok is false if
// the peer never sent one.
func (p *Peer) Heartbeat() (hb packet.Heartbeat, at time.Time, ok bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return p.heartbeat, p.lastHeartbeat, !p.lastHeartbeat.IsZero()
}

// LastSeen returns the time of the last heartbeat, or the connection time if
// there was none.
func (p *Peer) LastSeen() time.Time {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	if p.lastHeartbeat.IsZero() {
		return p.connectedAt
	}
	return p.lastHeartbeat
}

// IsSynced reports whether the peer's last heartbeat puts its solid milestone
// within threshold of its latest one, and that heartbeat is not older than
// maxAge. A zero maxAge disables the age check.
func (p *Peer) IsSynced(threshold uint32, maxAge time.Duration, now time.Time) bool {
	hb, at, ok := p.Heartbeat()
	if !ok {
		return false
	}

	if maxAge > 0 && now.Sub(at) > maxAge {
		return false
	}

	return uint64(hb.SolidMilestoneIndex)+uint64(threshold) >= uint64(hb.LatestMilestoneIndex)
}

// Misbehave increments the peer's misbehaviour counter and returns the new
// value.
func (p *Peer) Misbehave() uint32 {
	return atomic.AddUint32(&p.misbehaviour, 1)
}

// Misbehaviour returns the number of invalid frames received from the peer.
func (p *Peer) Misbehaviour() uint32 {
	return atomic.LoadUint32(&p.misbehaviour)
}
