package net

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/tanglesync/src/packet"
	"github.com/mosaicnetworks/tanglesync/src/peers"
)

const (
	bufSize = 64 * 1024

	consumeBuffer = 1024
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

/*
NetworkTransport provides a network based transport that exchanges TLV frames
with neighbours. It requires an underlying stream layer to provide a stream
abstraction, which can be simple TCP, TLS, etc.

Each connection starts with a Handshake exchanging the advertise addresses of
both ends, which become the peer IDs. It is then served by a read loop and a
write loop. The transport never interprets the frames beyond their header.

When two connections link the same pair of nodes, typically because both
dialed each other, both ends keep the connection dialed by the node with the
lower advertise address and close the other one.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	registry   *peers.Registry
	outboxSize int

	dialLock sync.Mutex
	dialed   map[string]peers.ID

	consumeCh chan Inbound

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout time.Duration

	wg sync.WaitGroup
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. outboxSize bounds the frames queued per peer. The timeout is used for
// dialing and as the write deadline.
func NewNetworkTransport(
	stream StreamLayer,
	registry *peers.Registry,
	outboxSize int,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &NetworkTransport{
		logger:     logger,
		registry:   registry,
		outboxSize: outboxSize,
		dialed:     make(map[string]peers.ID),
		consumeCh:  make(chan Inbound, consumeBuffer),
		shutdownCh: make(chan struct{}),
		stream:     stream,
		timeout:    timeout,
	}
}

// Close is used to stop the network transport. It fires the shutdown handle
// of every connection and waits for their goroutines to return.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()

	if n.shutdown {
		n.shutdownLock.Unlock()
		return nil
	}

	close(n.shutdownCh)
	n.shutdown = true
	err := n.stream.Close()

	n.shutdownLock.Unlock()

	n.wg.Wait()

	return err
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan Inbound {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Listen accepts incoming connections until the transport is closed.
func (n *NetworkTransport) Listen() {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		// the handshake must not hold up the accept loop
		n.shutdownLock.Lock()
		if n.shutdown {
			n.shutdownLock.Unlock()
			conn.Close()
			return
		}
		n.wg.Add(1)
		n.shutdownLock.Unlock()

		go func() {
			defer n.wg.Done()
			if _, err := n.Connect(conn, false); err != nil {
				n.logger.WithFields(logrus.Fields{
					"from":  conn.RemoteAddr(),
					"error": err,
				}).Debug("Inbound connection not registered")
			}
		}()
	}
}

// Dial implements the Transport interface.
func (n *NetworkTransport) Dial(address string) (peers.ID, error) {
	if n.IsShutdown() {
		return "", ErrTransportShutdown
	}

	conn, err := n.stream.Dial(address, n.timeout)
	if err != nil {
		return "", err
	}

	id, err := n.Connect(conn, true)
	if id != "" {
		// remember who answers at address, it may advertise another form
		n.dialLock.Lock()
		n.dialed[address] = id
		n.dialLock.Unlock()
	}

	return id, err
}

// Connect runs the handshake on an established connection, registers the
// peer under the identity it advertised and starts the read and write loops.
// outbound is true for connections this node dialed. If the node is already
// connected through a connection that is kept, the new one is closed and
// peers.ErrPeerExists is returned along with the peer's ID.
func (n *NetworkTransport) Connect(conn net.Conn, outbound bool) (peers.ID, error) {
	if n.IsShutdown() {
		conn.Close()
		return "", ErrTransportShutdown
	}

	local := n.AdvertiseAddr()

	remote, err := Handshake(conn, local, n.timeout)
	if err != nil {
		conn.Close()
		return "", errors.Wrap(err, "handshake")
	}

	if remote == local {
		conn.Close()
		return "", ErrSelfConnection
	}

	id := peers.ID(remote)

	peer := peers.NewPeer(id, remote, outbound)
	sender := peers.NewSender(n.outboxSize)
	shutdown := peers.NewShutdown()

	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if n.shutdown {
		conn.Close()
		return "", ErrTransportShutdown
	}

	if err := n.registry.Add(peer, sender, shutdown); err != nil {
		if err != peers.ErrPeerExists {
			conn.Close()
			return "", err
		}

		if cur, ok := n.registry.Get(id); ok && !n.supersedes(peer, cur.Peer) {
			conn.Close()
			return id, peers.ErrPeerExists
		}

		if old, ok := n.registry.Replace(peer, sender, shutdown); ok {
			old.Shutdown.Fire()
			n.logger.WithField("peer", id).Debug("Replacing connection")
		}
	}

	n.wg.Add(1)
	go n.handleConn(conn, peer, sender, shutdown)

	n.logger.WithFields(logrus.Fields{
		"peer":     id,
		"outbound": outbound,
	}).Info("Peer connected")

	return id, nil
}

// supersedes reports whether next replaces cur, two connections to the same
// node. A new connection in the same direction replaces the old one, which is
// a reconnection. Otherwise the connection dialed by the node with the lower
// advertise address wins, which both ends decide alike.
func (n *NetworkTransport) supersedes(next, cur *peers.Peer) bool {
	if next.Outbound() == cur.Outbound() {
		return true
	}

	localLower := n.AdvertiseAddr() < next.Address()

	return next.Outbound() == localLower
}

// Connected reports whether the node at address is registered, either under
// address itself or under the identity it advertised when dialed there.
func (n *NetworkTransport) Connected(address string) bool {
	n.dialLock.Lock()
	id, ok := n.dialed[address]
	n.dialLock.Unlock()

	if !ok {
		id = peers.ID(address)
	}

	_, found := n.registry.Get(id)
	return found
}

// KeepConnected dials every address that has no registered peer, then again
// every interval, until the transport is closed.
func (n *NetworkTransport) KeepConnected(addresses []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, addr := range addresses {
			if addr == n.AdvertiseAddr() || n.Connected(addr) {
				continue
			}
			if _, err := n.Dial(addr); err != nil {
				n.logger.WithFields(logrus.Fields{
					"address": addr,
					"error":   err,
				}).Debug("Dial failed")
			}
		}

		select {
		case <-ticker.C:
		case <-n.shutdownCh:
			return
		}
	}
}

// handleConn is used to handle a connection for its lifespan.
func (n *NetworkTransport) handleConn(conn net.Conn, peer *peers.Peer, sender *peers.Sender, shutdown *peers.Shutdown) {
	defer n.wg.Done()

	var loops sync.WaitGroup
	loops.Add(2)

	go func() {
		defer loops.Done()
		n.readLoop(conn, peer, shutdown)
	}()

	go func() {
		defer loops.Done()
		n.writeLoop(conn, peer, sender, shutdown)
	}()

	select {
	case <-shutdown.Done():
	case <-n.shutdownCh:
		shutdown.Fire()
	}

	conn.Close()
	loops.Wait()

	n.registry.RemovePeer(peer)
	sender.Close()

	n.logger.WithField("peer", peer.ID()).Info("Peer disconnected")
}

// readLoop reads frames until the connection fails or the peer is shut down.
func (n *NetworkTransport) readLoop(conn net.Conn, peer *peers.Peer, shutdown *peers.Shutdown) {
	defer shutdown.Fire()

	r := bufio.NewReaderSize(conn, bufSize)

	for {
		h, payload, err := packet.ReadFrame(r)
		if err != nil {
			if !shutdown.Fired() && err != io.EOF {
				n.logger.WithFields(logrus.Fields{
					"peer":  peer.ID(),
					"error": err,
				}).Debug("Read failed")
			}
			return
		}

		select {
		case n.consumeCh <- Inbound{From: peer.ID(), Header: h, Payload: payload}:
		case <-shutdown.Done():
			return
		}
	}
}

// writeLoop writes queued frames, flushing whenever the outbox is empty.
func (n *NetworkTransport) writeLoop(conn net.Conn, peer *peers.Peer, sender *peers.Sender, shutdown *peers.Shutdown) {
	defer shutdown.Fire()

	w := bufio.NewWriterSize(conn, bufSize)
	outbox := sender.Outbox()

	for {
		select {
		case frame, ok := <-outbox:
			if !ok {
				return
			}

			if n.timeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(n.timeout))
			}

			if _, err := w.Write(frame); err != nil {
				n.logWriteErr(peer, shutdown, err)
				return
			}

			if len(outbox) == 0 {
				if err := w.Flush(); err != nil {
					n.logWriteErr(peer, shutdown, err)
					return
				}
			}
		case <-shutdown.Done():
			return
		}
	}
}

func (n *NetworkTransport) logWriteErr(peer *peers.Peer, shutdown *peers.Shutdown, err error) {
	if shutdown.Fired() {
		return
	}
	n.logger.WithFields(logrus.Fields{
		"peer":  peer.ID(),
		"error": err,
	}).Debug("Write failed")
}
