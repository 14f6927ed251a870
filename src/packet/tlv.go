package packet

import (
	"io"

	"github.com/pkg/errors"
)

// Decode interprets payload as a packet of the expected kind. The header must
// carry the expected tag and the exact payload length, and the length must be
// within the kind's range. No part of the payload is read before all three
// checks pass.
func Decode(expected Kind, h Header, payload []byte) (Packet, error) {
	if h.Type != uint8(expected) {
		return nil, Error{
			Type:   TypeMismatch,
			Kind:   expected,
			Found:  h.Type,
			Length: len(payload),
		}
	}

	info, ok := kinds[expected]
	if !ok {
		return nil, Error{Type: UnknownKind, Found: h.Type}
	}

	if int(h.Length) != len(payload) {
		return nil, Error{
			Type:       LengthMismatch,
			Kind:       expected,
			Found:      h.Type,
			Advertised: int(h.Length),
			Length:     len(payload),
		}
	}

	if !info.size.Contains(len(payload)) {
		return nil, Error{
			Type:   OutOfRange,
			Kind:   expected,
			Found:  h.Type,
			Length: len(payload),
		}
	}

	return info.decode(payload), nil
}

// Parse decodes a frame whose kind is given by its own header.
func Parse(h Header, payload []byte) (Packet, error) {
	if _, ok := kinds[Kind(h.Type)]; !ok {
		return nil, Error{Type: UnknownKind, Found: h.Type, Length: len(payload)}
	}
	return Decode(Kind(h.Type), h, payload)
}

// Encode frames a packet: the header with the packet's tag and exact payload
// length, followed by the payload. It fails only if the packet was built with
// a payload outside its kind's range.
func Encode(p Packet) ([]byte, error) {
	size := p.Size()

	info, ok := kinds[p.Kind()]
	if !ok {
		return nil, Error{Type: UnknownKind, Found: uint8(p.Kind())}
	}
	if !info.size.Contains(size) {
		return nil, Error{Type: OutOfRange, Kind: p.Kind(), Found: uint8(p.Kind()), Length: size}
	}

	frame := make([]byte, HeaderSize+size)
	Header{Type: uint8(p.Kind()), Length: uint16(size)}.marshalTo(frame[:HeaderSize])
	p.marshalTo(frame[HeaderSize:])

	return frame, nil
}

// ReadFrame reads one header and the payload it advertises from r. The
// payload is not validated; pass the result to Parse or Decode. Because the
// length is a 16 bit field, no more than 65535 bytes are ever allocated for a
// payload, whatever the peer claims.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Header{}, nil, err
	}

	h, err := ParseHeader(hb[:])
	if err != nil {
		return Header{}, nil, err
	}

	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, errors.Wrapf(err, "reading %d byte payload", h.Length)
	}

	return h, payload, nil
}
