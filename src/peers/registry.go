package peers

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPeerExists is returned by Add when the ID is already registered.
var ErrPeerExists = errors.New("peer already registered")

// Entry is what the Registry stores for each peer.
type Entry struct {
	Peer     *Peer
	Sender   *Sender
	Shutdown *Shutdown
}

// ID is a shortcut for e.Peer.ID().
func (e Entry) ID() ID {
	return e.Peer.ID()
}

// Registry holds the connected peers. The lookup map and the ordered list are
// only ever modified together, under the same lock.
type Registry struct {
	sync.RWMutex
	byID   map[ID]Entry
	sorted []ID

	cursor uint64

	syncedThreshold uint32
	heartbeatMaxAge time.Duration
}

// NewRegistry creates an empty registry. syncedThreshold and heartbeatMaxAge
// define when a peer counts as synced, see Peer.IsSynced.
func NewRegistry(syncedThreshold uint32, heartbeatMaxAge time.Duration) *Registry {
	return &Registry{
		byID:            make(map[ID]Entry),
		syncedThreshold: syncedThreshold,
		heartbeatMaxAge: heartbeatMaxAge,
	}
}

// IsEmpty ...
func (r *Registry) IsEmpty() bool {
	r.RLock()
	defer r.RUnlock()

	return len(r.byID) == 0
}

// Len ...
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.byID)
}

// Get returns the entry registered under id.
func (r *Registry) Get(id ID) (Entry, bool) {
	r.RLock()
	defer r.RUnlock()

	e, ok := r.byID[id]
	return e, ok
}

// Add registers a peer with its sender and shutdown handle. The peer is
// appended to the end of the fairness order.
func (r *Registry) Add(peer *Peer, sender *Sender, shutdown *Shutdown) error {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.byID[peer.ID()]; ok {
		return ErrPeerExists
	}

	r.byID[peer.ID()] = Entry{
		Peer:     peer,
		Sender:   sender,
		Shutdown: shutdown,
	}
	r.sorted = append(r.sorted, peer.ID())

	return nil
}

// Remove unregisters a peer and returns its entry.
func (r *Registry) Remove(id ID) (Entry, bool) {
	r.Lock()
	defer r.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return Entry{}, false
	}

	r.removeLocked(id)

	return e, true
}

func (r *Registry) removeLocked(id ID) {
	delete(r.byID, id)

	sorted := make([]ID, 0, len(r.sorted))
	for _, pid := range r.sorted {
		if pid != id {
			sorted = append(sorted, pid)
		}
	}
	r.sorted = sorted
}

// Replace registers a peer like Add, but an entry already registered under
// the same ID is overwritten in place, keeping its position in the fairness
// order. The previous entry is returned.
func (r *Registry) Replace(peer *Peer, sender *Sender, shutdown *Shutdown) (Entry, bool) {
	r.Lock()
	defer r.Unlock()

	old, ok := r.byID[peer.ID()]

	r.byID[peer.ID()] = Entry{
		Peer:     peer,
		Sender:   sender,
		Shutdown: shutdown,
	}
	if !ok {
		r.sorted = append(r.sorted, peer.ID())
	}

	return old, ok
}

// RemovePeer removes the entry of peer, but only while peer is the one
// registered under its ID. A connection that was replaced cannot remove its
// successor.
func (r *Registry) RemovePeer(peer *Peer) bool {
	r.RLock()
	e, ok := r.byID[peer.ID()]
	r.RUnlock()

	if !ok || e.Peer != peer {
		return false
	}

	r.Lock()
	defer r.Unlock()

	if e, ok := r.byID[peer.ID()]; !ok || e.Peer != peer {
		return false
	}

	r.removeLocked(peer.ID())
	return true
}

// Entries returns a snapshot of all entries in insertion order.
func (r *Registry) Entries() []Entry {
	r.RLock()
	defer r.RUnlock()

	res := make([]Entry, 0, len(r.sorted))
	for _, id := range r.sorted {
		res = append(res, r.byID[id])
	}
	return res
}

// IDs returns the registered IDs in insertion order.
func (r *Registry) IDs() []ID {
	r.RLock()
	defer r.RUnlock()

	res := make([]ID, len(r.sorted))
	copy(res, r.sorted)
	return res
}

// Select returns up to n entries in fairness order, skipping the excluded
// IDs. Each call starts one position further along the list than the
// previous one.
func (r *Registry) Select(n int, exclude ...ID) []Entry {
	if n <= 0 {
		return nil
	}

	r.RLock()
	defer r.RUnlock()

	l := len(r.sorted)
	if l == 0 {
		return nil
	}

	start := int((atomic.AddUint64(&r.cursor, 1) - 1) % uint64(l))

	size := n
	if size > l {
		size = l
	}

	res := make([]Entry, 0, size)
	for i := 0; i < l && len(res) < n; i++ {
		id := r.sorted[(start+i)%l]
		if excluded(id, exclude) {
			continue
		}
		res = append(res, r.byID[id])
	}
	return res
}

// ConnectedPeers ...
func (r *Registry) ConnectedPeers() int {
	return r.Len()
}

// SyncedPeers counts the peers whose last heartbeat says they are synced.
func (r *Registry) SyncedPeers() int {
	now := time.Now()

	r.RLock()
	defer r.RUnlock()

	count := 0
	for _, e := range r.byID {
		if e.Peer.IsSynced(r.syncedThreshold, r.heartbeatMaxAge, now) {
			count++
		}
	}
	return count
}

// ShutdownAll fires the shutdown handle of every registered peer.
func (r *Registry) ShutdownAll() {
	for _, e := range r.Entries() {
		e.Shutdown.Fire()
	}
}

func excluded(id ID, exclude []ID) bool {
	for _, x := range exclude {
		if x == id {
			return true
		}
	}
	return false
}
