package tangle

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const (
	// MinParents ...
	MinParents = 1
	// MaxParents ...
	MaxParents = 8
)

// PayloadKind tells what a message carries besides its data.
type PayloadKind uint8

const (
	// DataPayload carries opaque data only.
	DataPayload PayloadKind = iota
	// MilestonePayload carries a milestone index and timestamp.
	MilestonePayload
)

// Milestone ...
type Milestone struct {
	Index     MilestoneIndex
	Timestamp uint64
}

// Message is a vertex of the tangle.
//
// Packed layout, little-endian:
//
//	parents count u8, parents 32 bytes each,
//	payload kind u8, [milestone index u32, timestamp u64],
//	data length u32, data,
//	nonce u64
type Message struct {
	Parents   []MessageID
	Milestone *Milestone
	Data      []byte
	Nonce     uint64

	id     MessageID
	hashed bool
}

// NewMessage ...
func NewMessage(parents []MessageID, data []byte, nonce uint64) *Message {
	return &Message{
		Parents: parents,
		Data:    data,
		Nonce:   nonce,
	}
}

// NewMilestoneMessage ...
func NewMilestoneMessage(parents []MessageID, index MilestoneIndex, timestamp uint64, nonce uint64) *Message {
	return &Message{
		Parents:   parents,
		Milestone: &Milestone{Index: index, Timestamp: timestamp},
		Nonce:     nonce,
	}
}

// IsMilestone ...
func (m *Message) IsMilestone() bool {
	return m.Milestone != nil
}

// PackedSize returns the length of Pack's output.
func (m *Message) PackedSize() int {
	size := 1 + len(m.Parents)*MessageIDSize + 1 + 4 + len(m.Data) + 8
	if m.Milestone != nil {
		size += 4 + 8
	}
	return size
}

// Pack serializes the message.
func (m *Message) Pack() ([]byte, error) {
	if len(m.Parents) < MinParents || len(m.Parents) > MaxParents {
		return nil, errors.Errorf("message has %d parents, expected %d to %d", len(m.Parents), MinParents, MaxParents)
	}

	buf := make([]byte, 0, m.PackedSize())

	buf = append(buf, uint8(len(m.Parents)))
	for _, p := range m.Parents {
		buf = append(buf, p[:]...)
	}

	if m.Milestone != nil {
		buf = append(buf, uint8(MilestonePayload))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Milestone.Index))
		buf = binary.LittleEndian.AppendUint64(buf, m.Milestone.Timestamp)
	} else {
		buf = append(buf, uint8(DataPayload))
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Data)))
	buf = append(buf, m.Data...)
	buf = binary.LittleEndian.AppendUint64(buf, m.Nonce)

	return buf, nil
}

// Unpack reads a packed message. The whole input must be consumed.
func (m *Message) Unpack(b []byte) error {
	r := reader{buf: b}

	count := r.uint8()
	if r.err == nil && (count < MinParents || count > MaxParents) {
		return errors.Errorf("message has %d parents, expected %d to %d", count, MinParents, MaxParents)
	}

	parents := make([]MessageID, count)
	for i := range parents {
		copy(parents[i][:], r.bytes(MessageIDSize))
	}

	var milestone *Milestone
	switch kind := PayloadKind(r.uint8()); kind {
	case DataPayload:
	case MilestonePayload:
		milestone = &Milestone{
			Index:     MilestoneIndex(r.uint32()),
			Timestamp: r.uint64(),
		}
	default:
		if r.err == nil {
			return errors.Errorf("unknown payload kind %d", kind)
		}
	}

	dataLen := r.uint32()
	data := r.bytes(int(dataLen))
	nonce := r.uint64()

	if r.err != nil {
		return errors.Wrap(r.err, "unpacking message")
	}

	if r.off != len(b) {
		return errors.Errorf("%d trailing bytes after message", len(b)-r.off)
	}

	if milestone != nil && milestone.Index == 0 {
		return errors.New("milestone index 0 is reserved")
	}

	m.Parents = parents
	m.Milestone = milestone
	m.Data = append([]byte(nil), data...)
	m.Nonce = nonce
	m.id = blake2b.Sum256(b)
	m.hashed = true

	return nil
}

// ID returns the BLAKE2b-256 digest of the packed message.
func (m *Message) ID() (MessageID, error) {
	if m.hashed {
		return m.id, nil
	}

	b, err := m.Pack()
	if err != nil {
		return MessageID{}, err
	}

	m.id = blake2b.Sum256(b)
	m.hashed = true

	return m.id, nil
}

// UnpackMessage ...
func UnpackMessage(b []byte) (*Message, error) {
	m := new(Message)
	if err := m.Unpack(b); err != nil {
		return nil, err
	}
	return m, nil
}

var errShortMessage = errors.New("message too short")

// reader remembers the first error so a fixed layout can be read without
// checking every field.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = errShortMessage
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}
