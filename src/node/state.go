package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a node: Synchronizing, Synced or Shutdown
type State uint32

const (
	// Synchronizing is the initial state. The solid milestone is behind the
	// latest known milestone, or no milestone is known yet.
	Synchronizing State = iota
	// Synced means the solid milestone caught up with the latest one.
	Synced
	// Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Synchronizing:
		return "Synchronizing"
	case Synced:
		return "Synced"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// swapState sets the state to next only if it is still old.
func (b *state) swapState(old, next State) bool {
	stateAddr := (*uint32)(&b.state)
	return atomic.CompareAndSwapUint32(stateAddr, uint32(old), uint32(next))
}

// Start a goroutine and add it to waitgroup. It returns false if the limit
// is reached and f was not started.
func (b *state) goFunc(f func()) bool {
	if atomic.AddInt32(&b.wgCount, 1) > WGLIMIT {
		atomic.AddInt32(&b.wgCount, -1)
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
	return true
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
