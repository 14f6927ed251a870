package request

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/tanglesync/src/peers"
	"github.com/mosaicnetworks/tanglesync/src/telemetry"
)

// Selector picks the peers a request is sent to. It is implemented by
// peers.Registry.
type Selector interface {
	Select(n int, exclude ...peers.ID) []peers.Entry
}

// FrameFunc builds the wire frame requesting key.
type FrameFunc[K comparable] func(key K) ([]byte, error)

// Pending is a snapshot of a tracked key.
type Pending struct {
	Asked          []peers.ID
	FirstRequested time.Time
	LastAttempt    time.Time
	Attempts       int
}

type entry struct {
	asked       []peers.ID
	exclude     []peers.ID
	first       time.Time
	lastAttempt time.Time
	attempts    int
}

// Tracker de-duplicates and retries requests for keys of type K.
type Tracker[K comparable] struct {
	name     string
	conf     Config
	selector Selector
	frame    FrameFunc[K]
	logger   *logrus.Entry
	now      func() time.Time

	mtx     sync.Mutex
	pending map[K]*entry
}

// NewTracker creates a Tracker. name labels its logs and metrics.
func NewTracker[K comparable](
	name string,
	conf Config,
	selector Selector,
	frame FrameFunc[K],
	logger *logrus.Entry,
) *Tracker[K] {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Tracker[K]{
		name:     name,
		conf:     conf.withDefaults(),
		selector: selector,
		frame:    frame,
		logger:   logger.WithField("tracker", name),
		now:      time.Now,
		pending:  make(map[K]*entry),
	}
}

// Request asks up to Fanout peers for key, unless key was already requested
// less than RetryInterval ago or ran out of attempts. Peers in exclude are
// never asked for key, on this attempt or any retry. It returns true if at
// least one peer accepted the frame.
func (t *Tracker[K]) Request(key K, exclude ...peers.ID) bool {
	now := t.now()

	t.mtx.Lock()
	e, ok := t.pending[key]
	if ok {
		e.exclude = mergeIDs(e.exclude, exclude)
		if now.Sub(e.lastAttempt) < t.conf.RetryInterval ||
			e.attempts >= t.conf.RetryCeiling ||
			now.Sub(e.first) >= t.conf.RequestTimeout {
			t.mtx.Unlock()
			return false
		}
	} else {
		e = &entry{first: now, exclude: mergeIDs(nil, exclude)}
		t.pending[key] = e
		telemetry.PendingRequests.WithLabelValues(t.name).Set(float64(len(t.pending)))
	}

	prevAttempt := e.lastAttempt
	e.attempts++
	e.lastAttempt = now
	asked := make([]peers.ID, len(e.asked))
	copy(asked, e.asked)
	excluded := make([]peers.ID, len(e.exclude))
	copy(excluded, e.exclude)
	retry := e.attempts > 1
	t.mtx.Unlock()

	sent := t.send(key, excluded, asked)

	t.mtx.Lock()
	defer t.mtx.Unlock()

	if cur, ok := t.pending[key]; ok && cur == e {
		if len(sent) == 0 {
			e.attempts--
			e.lastAttempt = prevAttempt
		} else {
			for _, id := range sent {
				if !containsID(e.asked, id) {
					e.asked = append(e.asked, id)
				}
			}
		}
	}

	if len(sent) == 0 {
		telemetry.Requests.WithLabelValues(t.name, "unsent").Inc()
		return false
	}

	if retry {
		telemetry.Requests.WithLabelValues(t.name, "retried").Inc()
	} else {
		telemetry.Requests.WithLabelValues(t.name, "sent").Inc()
	}

	return true
}

// send frames key and pushes it to up to Fanout peers, preferring peers that
// were not asked before. It returns the peers that accepted the frame.
func (t *Tracker[K]) send(key K, exclude []peers.ID, asked []peers.ID) []peers.ID {
	frame, err := t.frame(key)
	if err != nil {
		t.logger.WithError(err).WithField("key", fmt.Sprint(key)).Error("Building request frame")
		return nil
	}

	candidates := t.selector.Select(int(^uint(0)>>1), exclude...)

	ordered := make([]peers.Entry, 0, len(candidates))
	for _, c := range candidates {
		if !containsID(asked, c.ID()) {
			ordered = append(ordered, c)
		}
	}
	for _, c := range candidates {
		if containsID(asked, c.ID()) {
			ordered = append(ordered, c)
		}
	}

	var sent []peers.ID
	for _, c := range ordered {
		if len(sent) >= t.conf.Fanout {
			break
		}

		if err := c.Sender.Send(frame); err != nil {
			t.logger.WithFields(logrus.Fields{
				"peer":  c.ID(),
				"key":   fmt.Sprint(key),
				"error": err,
			}).Debug("Request not sent")
			continue
		}

		sent = append(sent, c.ID())
	}

	return sent
}

// Receive clears key. It returns false if key was not pending.
func (t *Tracker[K]) Receive(key K) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if _, ok := t.pending[key]; !ok {
		return false
	}

	delete(t.pending, key)
	telemetry.Requests.WithLabelValues(t.name, "satisfied").Inc()
	telemetry.PendingRequests.WithLabelValues(t.name).Set(float64(len(t.pending)))

	return true
}

// Sweep re-requests the entries whose RetryInterval elapsed and abandons the
// ones that reached RetryCeiling or RequestTimeout. It yields to the
// scheduler every IterationBudget entries and stops early if ctx is done.
func (t *Tracker[K]) Sweep(ctx context.Context) (retried int, abandoned int) {
	t.mtx.Lock()
	keys := make([]K, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	t.mtx.Unlock()

	for i, key := range keys {
		if i > 0 && i%t.conf.IterationBudget == 0 {
			runtime.Gosched()
			if ctx.Err() != nil {
				return retried, abandoned
			}
		}

		now := t.now()

		t.mtx.Lock()
		e, ok := t.pending[key]
		if !ok {
			t.mtx.Unlock()
			continue
		}

		windowElapsed := now.Sub(e.lastAttempt) >= t.conf.RetryInterval
		expired := now.Sub(e.first) >= t.conf.RequestTimeout
		exhausted := e.attempts >= t.conf.RetryCeiling && windowElapsed

		if expired || exhausted {
			delete(t.pending, key)
			telemetry.PendingRequests.WithLabelValues(t.name).Set(float64(len(t.pending)))
			attempts := e.attempts
			t.mtx.Unlock()

			abandoned++
			telemetry.Requests.WithLabelValues(t.name, "abandoned").Inc()
			t.logger.WithFields(logrus.Fields{
				"key":      fmt.Sprint(key),
				"attempts": attempts,
				"expired":  expired,
			}).Warn("Abandoning request")
			continue
		}
		t.mtx.Unlock()

		if windowElapsed && t.Request(key) {
			retried++
		}
	}

	return retried, abandoned
}

// Run sweeps every RetryInterval until ctx is done.
func (t *Tracker[K]) Run(ctx context.Context) {
	ticker := time.NewTicker(t.conf.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			retried, abandoned := t.Sweep(ctx)
			if retried > 0 || abandoned > 0 {
				t.logger.WithFields(logrus.Fields{
					"retried":   retried,
					"abandoned": abandoned,
					"pending":   t.Len(),
				}).Debug("Sweep")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of pending keys.
func (t *Tracker[K]) Len() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	return len(t.pending)
}

// Pending returns a snapshot of the entry for key.
func (t *Tracker[K]) Pending(key K) (Pending, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	e, ok := t.pending[key]
	if !ok {
		return Pending{}, false
	}

	asked := make([]peers.ID, len(e.asked))
	copy(asked, e.asked)

	return Pending{
		Asked:          asked,
		FirstRequested: e.first,
		LastAttempt:    e.lastAttempt,
		Attempts:       e.attempts,
	}, true
}

// Keys returns the pending keys in no particular order.
func (t *Tracker[K]) Keys() []K {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	keys := make([]K, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	return keys
}

// mergeIDs appends the ids of extra missing from ids.
func mergeIDs(ids []peers.ID, extra []peers.ID) []peers.ID {
	for _, id := range extra {
		if !containsID(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func containsID(ids []peers.ID, id peers.ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
