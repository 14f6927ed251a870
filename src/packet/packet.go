package packet

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size in bytes of an encoded Header.
const HeaderSize = 3

// Payload sizes of the packet kinds.
const (
	// MessageIDSize is the size of a message identifier.
	MessageIDSize = 32

	// MilestoneRequestSize is the size of a MilestoneRequest payload: a
	// milestone index.
	MilestoneRequestSize = 4

	// MessageRequestSize is the size of a MessageRequest payload: a message
	// identifier.
	MessageRequestSize = MessageIDSize

	// HeartbeatSize is the size of a Heartbeat payload: three milestone
	// indexes and two peer counters.
	HeartbeatSize = 14

	// MessageMinSize is the smallest Message payload.
	MessageMinSize = 1

	// MessageMaxSize is the largest Message payload.
	MessageMaxSize = 32768
)

// Kind is the type tag of a packet.
type Kind uint8

// Packet kinds. The values are part of the wire format.
const (
	MilestoneRequestKind Kind = 1
	MessageKind          Kind = 2
	MessageRequestKind   Kind = 3
	HeartbeatKind        Kind = 4
)

// Range is a half-open range [Min, Max) of payload lengths.
type Range struct {
	Min int
	Max int
}

// Contains reports whether n is within the range.
func (r Range) Contains(n int) bool {
	return n >= r.Min && n < r.Max
}

type kindInfo struct {
	name   string
	size   Range
	decode func(payload []byte) Packet
}

var kinds = map[Kind]kindInfo{
	MilestoneRequestKind: {
		name:   "MilestoneRequest",
		size:   Range{MilestoneRequestSize, MilestoneRequestSize + 1},
		decode: decodeMilestoneRequest,
	},
	MessageKind: {
		name:   "Message",
		size:   Range{MessageMinSize, MessageMaxSize + 1},
		decode: decodeMessage,
	},
	MessageRequestKind: {
		name:   "MessageRequest",
		size:   Range{MessageRequestSize, MessageRequestSize + 1},
		decode: decodeMessageRequest,
	},
	HeartbeatKind: {
		name:   "Heartbeat",
		size:   Range{HeartbeatSize, HeartbeatSize + 1},
		decode: decodeHeartbeat,
	},
}

// Kinds returns every known packet kind in tag order.
func Kinds() []Kind {
	return []Kind{MilestoneRequestKind, MessageKind, MessageRequestKind, HeartbeatKind}
}

// SizeRange returns the range of payload lengths accepted by the kind. The
// second return value is false for an unknown kind.
func (k Kind) SizeRange() (Range, bool) {
	info, ok := kinds[k]
	return info.size, ok
}

// String ...
func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

// Header precedes every payload on the wire.
type Header struct {
	Type   uint8
	Length uint16
}

// ParseHeader reads a Header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("packet: header needs %d bytes, got %d", HeaderSize, len(b))
	}
	return Header{
		Type:   b[0],
		Length: binary.LittleEndian.Uint16(b[1:HeaderSize]),
	}, nil
}

func (h Header) marshalTo(b []byte) {
	b[0] = h.Type
	binary.LittleEndian.PutUint16(b[1:HeaderSize], h.Length)
}

// Packet is one of *MilestoneRequest, *Message, *MessageRequest or
// *Heartbeat. The set is closed: the unexported method keeps other packages
// from adding kinds.
type Packet interface {
	Kind() Kind
	// Size is the payload length in bytes.
	Size() int
	marshalTo(payload []byte)
}

/*******************************************************************************
MilestoneRequest
*******************************************************************************/

// MilestoneRequest asks a peer for the milestone with the given index. Index 0
// stands for the latest milestone known to the peer.
type MilestoneRequest struct {
	Index uint32
}

// Kind implements the Packet interface.
func (p *MilestoneRequest) Kind() Kind { return MilestoneRequestKind }

// Size implements the Packet interface.
func (p *MilestoneRequest) Size() int { return MilestoneRequestSize }

func (p *MilestoneRequest) marshalTo(b []byte) {
	binary.LittleEndian.PutUint32(b, p.Index)
}

func decodeMilestoneRequest(b []byte) Packet {
	return &MilestoneRequest{Index: binary.LittleEndian.Uint32(b)}
}

/*******************************************************************************
Message
*******************************************************************************/

// Message carries a packed ledger message. The codec does not look inside the
// bytes.
type Message struct {
	Bytes []byte
}

// Kind implements the Packet interface.
func (p *Message) Kind() Kind { return MessageKind }

// Size implements the Packet interface.
func (p *Message) Size() int { return len(p.Bytes) }

func (p *Message) marshalTo(b []byte) {
	copy(b, p.Bytes)
}

func decodeMessage(b []byte) Packet {
	bytes := make([]byte, len(b))
	copy(bytes, b)
	return &Message{Bytes: bytes}
}

/*******************************************************************************
MessageRequest
*******************************************************************************/

// MessageRequest asks a peer for the message with the given identifier.
type MessageRequest struct {
	MessageID [MessageIDSize]byte
}

// Kind implements the Packet interface.
func (p *MessageRequest) Kind() Kind { return MessageRequestKind }

// Size implements the Packet interface.
func (p *MessageRequest) Size() int { return MessageRequestSize }

func (p *MessageRequest) marshalTo(b []byte) {
	copy(b, p.MessageID[:])
}

func decodeMessageRequest(b []byte) Packet {
	p := &MessageRequest{}
	copy(p.MessageID[:], b)
	return p
}

/*******************************************************************************
Heartbeat
*******************************************************************************/

// Heartbeat advertises the sender's view of the ledger and of its
// neighbourhood. It doubles as a liveness signal.
type Heartbeat struct {
	SolidMilestoneIndex  uint32
	PrunedIndex          uint32
	LatestMilestoneIndex uint32
	ConnectedPeers       uint8
	SyncedPeers          uint8
}

// Kind implements the Packet interface.
func (p *Heartbeat) Kind() Kind { return HeartbeatKind }

// Size implements the Packet interface.
func (p *Heartbeat) Size() int { return HeartbeatSize }

func (p *Heartbeat) marshalTo(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], p.SolidMilestoneIndex)
	binary.LittleEndian.PutUint32(b[4:8], p.PrunedIndex)
	binary.LittleEndian.PutUint32(b[8:12], p.LatestMilestoneIndex)
	b[12] = p.ConnectedPeers
	b[13] = p.SyncedPeers
}

func decodeHeartbeat(b []byte) Packet {
	return &Heartbeat{
		SolidMilestoneIndex:  binary.LittleEndian.Uint32(b[0:4]),
		PrunedIndex:          binary.LittleEndian.Uint32(b[4:8]),
		LatestMilestoneIndex: binary.LittleEndian.Uint32(b[8:12]),
		ConnectedPeers:       b[12],
		SyncedPeers:          b[13],
	}
}
