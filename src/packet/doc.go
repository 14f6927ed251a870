// Package packet implements the type-length-value framing used by every
// protocol packet exchanged between peers.
//
// A frame is a 3 byte header followed by a payload:
//
//	[type: 1 byte][length: 2 bytes, little-endian][payload: length bytes]
//
// The set of packet kinds is closed: MilestoneRequest, Message,
// MessageRequest and Heartbeat. Each kind has a fixed tag and a half-open
// range of payload lengths it accepts. Decoding checks, in order, that the
// header's tag matches the expected kind, that the advertised length equals
// the payload length, and that the payload length is within the kind's
// range. Only then is the payload read, and reading a length-valid payload
// never fails because every layout is fixed.
package packet
