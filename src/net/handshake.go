package net

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// MaxIdentitySize bounds the identity exchanged in the handshake.
const MaxIdentitySize = 255

var (
	// ErrBadIdentity is returned when a handshake identity is empty or too
	// long.
	ErrBadIdentity = errors.New("invalid handshake identity")

	// ErrSelfConnection is returned when a connection leads back to this
	// node.
	ErrSelfConnection = errors.New("connected to self")
)

// Handshake is the first exchange on every connection, before any frame.
// Both ends write their identity, the address they advertise, as one length
// byte followed by the address, and read the other end's. The write runs
// concurrently with the read so that unbuffered connections do not deadlock.
func Handshake(conn net.Conn, local string, timeout time.Duration) (string, error) {
	if len(local) == 0 || len(local) > MaxIdentitySize {
		return "", ErrBadIdentity
	}

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
		defer conn.SetDeadline(time.Time{})
	}

	writeErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 0, 1+len(local))
		buf = append(buf, byte(len(local)))
		buf = append(buf, local...)
		_, err := conn.Write(buf)
		writeErr <- err
	}()

	var size [1]byte
	if _, err := io.ReadFull(conn, size[:]); err != nil {
		return "", errors.Wrap(err, "reading identity size")
	}
	if size[0] == 0 {
		return "", ErrBadIdentity
	}

	remote := make([]byte, size[0])
	if _, err := io.ReadFull(conn, remote); err != nil {
		return "", errors.Wrap(err, "reading identity")
	}

	if err := <-writeErr; err != nil {
		return "", errors.Wrap(err, "writing identity")
	}

	return string(remote), nil
}
