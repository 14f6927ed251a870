package tangle

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"

	"github.com/mosaicnetworks/tanglesync/src/common"
)

var (
	messagePrefix   = []byte("msg/")
	metadataPrefix  = []byte("meta/")
	milestonePrefix = []byte("ms/")
)

func messageKey(id MessageID) []byte {
	return append(append([]byte{}, messagePrefix...), id[:]...)
}

func metadataKey(id MessageID) []byte {
	return append(append([]byte{}, metadataPrefix...), id[:]...)
}

// milestone keys are big-endian so that iteration visits them in index order
func milestoneKey(index MilestoneIndex) []byte {
	k := append([]byte{}, milestonePrefix...)
	return binary.BigEndian.AppendUint32(k, uint32(index))
}

// Metadata is what the node knows about a message besides its content.
type Metadata struct {
	ArrivalTime int64          `codec:"arrival"`
	Milestone   MilestoneIndex `codec:"milestone"`
	Parents     int            `codec:"parents"`
}

// Marshal - msgpack encoding of Metadata
func (m *Metadata) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	mh := new(codec.MsgpackHandle)
	enc := codec.NewEncoder(b, mh)

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (m *Metadata) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	mh := new(codec.MsgpackHandle)
	dec := codec.NewDecoder(b, mh)

	return dec.Decode(m)
}

// InsertResult describes the outcome of Tangle.Insert.
type InsertResult struct {
	ID MessageID
	// Inserted is false if the message was already known.
	Inserted bool
	// Missing lists the parents that are not in the tangle yet.
	Missing []MessageID
}

// Tangle is the set of known messages.
type Tangle struct {
	storage Storage
	logger  *logrus.Entry

	mtx    sync.RWMutex
	latest MilestoneIndex
	solid  MilestoneIndex
}

// New opens a Tangle on top of storage and restores the milestone indexes
// from it.
func New(storage Storage, logger *logrus.Entry) (*Tangle, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	t := &Tangle{
		storage: storage,
		logger:  logger,
	}

	err := storage.Iterate(context.Background(), milestonePrefix, func(key, _ []byte) bool {
		index := MilestoneIndex(binary.BigEndian.Uint32(key[len(milestonePrefix):]))
		if index > t.latest {
			t.latest = index
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "loading milestones")
	}

	t.mtx.Lock()
	t.advanceSolid()
	t.mtx.Unlock()

	if t.latest > 0 {
		t.logger.WithFields(logrus.Fields{
			"latest_milestone": t.latest,
			"solid_milestone":  t.solid,
		}).Debug("Loaded tangle")
	}

	return t, nil
}

// Insert adds a message. Parents that are not known are returned in the
// result; the message is stored anyway.
func (t *Tangle) Insert(m *Message) (InsertResult, error) {
	id, err := m.ID()
	if err != nil {
		return InsertResult{}, err
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	res := InsertResult{ID: id}

	exists, err := t.storage.Has(messageKey(id))
	if err != nil {
		return res, err
	}

	for _, p := range m.Parents {
		if !t.contains(p) {
			res.Missing = append(res.Missing, p)
		}
	}

	if exists {
		return res, nil
	}

	packed, err := m.Pack()
	if err != nil {
		return res, err
	}

	meta := Metadata{
		ArrivalTime: time.Now().UnixNano(),
		Parents:     len(m.Parents),
	}
	if m.Milestone != nil {
		meta.Milestone = m.Milestone.Index
	}

	metaBytes, err := meta.Marshal()
	if err != nil {
		return res, err
	}

	if err := t.storage.Put(messageKey(id), packed); err != nil {
		return res, errors.Wrapf(err, "storing message %s", id)
	}
	if err := t.storage.Put(metadataKey(id), metaBytes); err != nil {
		return res, errors.Wrapf(err, "storing metadata of %s", id)
	}

	if m.Milestone != nil {
		if err := t.storage.Put(milestoneKey(m.Milestone.Index), id[:]); err != nil {
			return res, errors.Wrapf(err, "storing milestone %d", m.Milestone.Index)
		}
		if m.Milestone.Index > t.latest {
			t.latest = m.Milestone.Index
		}
	}

	res.Inserted = true

	t.advanceSolid()

	return res, nil
}

// Contains reports whether the message is known. NullMessageID is always
// known.
func (t *Tangle) Contains(id MessageID) bool {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	return t.contains(id)
}

func (t *Tangle) contains(id MessageID) bool {
	if id == NullMessageID {
		return true
	}

	ok, err := t.storage.Has(messageKey(id))
	if err != nil {
		t.logger.WithError(err).WithField("message_id", id).Error("Checking message")
		return false
	}
	return ok
}

// Get returns the message with the given id.
func (t *Tangle) Get(id MessageID) (*Message, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	return t.get(id)
}

func (t *Tangle) get(id MessageID) (*Message, bool) {
	b, err := t.storage.Get(messageKey(id))
	if err != nil {
		if !common.IsStore(err, common.KeyNotFound) {
			t.logger.WithError(err).WithField("message_id", id).Error("Reading message")
		}
		return nil, false
	}

	m, err := UnpackMessage(b)
	if err != nil {
		t.logger.WithError(err).WithField("message_id", id).Error("Stored message is corrupt")
		return nil, false
	}

	return m, true
}

// Metadata returns the metadata recorded when the message was inserted.
func (t *Tangle) Metadata(id MessageID) (Metadata, bool) {
	var meta Metadata

	b, err := t.storage.Get(metadataKey(id))
	if err != nil {
		return meta, false
	}

	if err := meta.Unmarshal(b); err != nil {
		t.logger.WithError(err).WithField("message_id", id).Error("Stored metadata is corrupt")
		return meta, false
	}

	return meta, true
}

// MilestoneMessage returns the message carrying the milestone index.
func (t *Tangle) MilestoneMessage(index MilestoneIndex) (*Message, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	return t.milestoneMessage(index)
}

func (t *Tangle) milestoneMessage(index MilestoneIndex) (*Message, bool) {
	b, err := t.storage.Get(milestoneKey(index))
	if err != nil || len(b) != MessageIDSize {
		return nil, false
	}

	var id MessageID
	copy(id[:], b)

	return t.get(id)
}

// LatestMilestoneIndex is the highest milestone index seen.
func (t *Tangle) LatestMilestoneIndex() MilestoneIndex {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	return t.latest
}

// SolidMilestoneIndex is the highest index up to which every milestone and
// its parents are present.
func (t *Tangle) SolidMilestoneIndex() MilestoneIndex {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	return t.solid
}

// SyncStatus ...
func (t *Tangle) SyncStatus() SyncStatus {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	return SyncStatus{
		LatestMilestoneIndex:    t.latest,
		ConfirmedMilestoneIndex: t.solid,
	}
}

// advanceSolid must be called with the lock held.
func (t *Tangle) advanceSolid() {
	for t.solid < t.latest {
		m, ok := t.milestoneMessage(t.solid + 1)
		if !ok {
			return
		}
		for _, p := range m.Parents {
			if !t.contains(p) {
				return
			}
		}
		t.solid++
	}
}

// Close closes the underlying storage.
func (t *Tangle) Close() error {
	return t.storage.Close()
}
