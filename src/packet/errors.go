package packet

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrType identifies why a frame was rejected.
type ErrType uint32

const (
	// TypeMismatch means the header's tag is not the expected kind's tag.
	TypeMismatch ErrType = iota
	// LengthMismatch means the header's length is not the payload length.
	LengthMismatch
	// OutOfRange means the payload length is outside the kind's range.
	OutOfRange
	// UnknownKind means the tag does not belong to any packet kind.
	UnknownKind
)

// String ...
func (t ErrType) String() string {
	switch t {
	case TypeMismatch:
		return "TypeMismatch"
	case LengthMismatch:
		return "LengthMismatch"
	case OutOfRange:
		return "OutOfRange"
	case UnknownKind:
		return "UnknownKind"
	default:
		return "Unknown"
	}
}

// Error is returned for every frame that fails validation. Only the fields
// relevant to Type are set.
type Error struct {
	Type ErrType

	// Kind is the kind the payload was decoded as.
	Kind Kind

	// Found is the tag carried by the header.
	Found uint8

	// Advertised is the payload length carried by the header.
	Advertised int

	// Length is the actual payload length.
	Length int
}

// Error implements the error interface.
func (e Error) Error() string {
	switch e.Type {
	case TypeMismatch:
		return fmt.Sprintf("packet: type mismatch: found %d, expected %d (%s)",
			e.Found, uint8(e.Kind), e.Kind)
	case LengthMismatch:
		return fmt.Sprintf("packet: %s length mismatch: advertised %d, actual %d",
			e.Kind, e.Advertised, e.Length)
	case OutOfRange:
		size, _ := e.Kind.SizeRange()
		return fmt.Sprintf("packet: %s length %d out of range [%d, %d)",
			e.Kind, e.Length, size.Min, size.Max)
	case UnknownKind:
		return fmt.Sprintf("packet: unknown kind %d", e.Found)
	default:
		return "packet: invalid frame"
	}
}

// IsPacketErr checks that err, or the error it wraps, is a packet Error of
// type t.
func IsPacketErr(err error, t ErrType) bool {
	packetErr, ok := errors.Cause(err).(Error)
	return ok && packetErr.Type == t
}
