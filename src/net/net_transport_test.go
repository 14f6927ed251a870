package net

import (
	"bytes"
	gonet "net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mosaicnetworks/tanglesync/src/common"
	"github.com/mosaicnetworks/tanglesync/src/packet"
	"github.com/mosaicnetworks/tanglesync/src/peers"
)

func newTestTransport(t *testing.T) (*NetworkTransport, *peers.Registry) {
	reg := peers.NewRegistry(2, time.Minute)
	trans, err := NewTCPTransport("127.0.0.1:0", "", reg, 16, time.Second, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	go trans.Listen()
	return trans, reg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestNetworkTransport_StartStop(t *testing.T) {
	trans, _ := newTestTransport(t)
	if err := trans.Close(); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := trans.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := trans.Dial("127.0.0.1:1"); err != ErrTransportShutdown {
		t.Fatalf("expected ErrTransportShutdown, got %v", err)
	}
}

func TestNetworkTransport_Frames(t *testing.T) {
	trans1, reg1 := newTestTransport(t)
	defer trans1.Close()

	trans2, reg2 := newTestTransport(t)
	defer trans2.Close()

	id, err := trans2.Dial(trans1.LocalAddr())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if id != peers.ID(trans1.AdvertiseAddr()) {
		t.Fatalf("peer should be identified by its advertise address, got %s", id)
	}

	if !trans2.Connected(trans1.LocalAddr()) {
		t.Fatal("dialed address should be connected")
	}

	waitFor(t, "inbound registration", func() bool { return reg1.Len() == 1 })

	entry, ok := reg2.Get(id)
	if !ok {
		t.Fatal("dialed peer not registered")
	}

	frames := []packet.Packet{
		&packet.MilestoneRequest{Index: 12},
		&packet.Heartbeat{SolidMilestoneIndex: 1, PrunedIndex: 0, LatestMilestoneIndex: 3, ConnectedPeers: 1},
		&packet.Message{Bytes: []byte("payload")},
	}

	for _, p := range frames {
		b, err := packet.Encode(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := entry.Sender.Send(b); err != nil {
			t.Fatal(err)
		}
	}

	for i, p := range frames {
		select {
		case in := <-trans1.Consumer():
			expected, _ := packet.Encode(p)
			if in.Header.Type != uint8(p.Kind()) {
				t.Fatalf("frame %d: expected kind %v, got %d", i, p.Kind(), in.Header.Type)
			}
			if !bytes.Equal(in.Payload, expected[packet.HeaderSize:]) {
				t.Fatalf("frame %d: payload mismatch", i)
			}
			if in.From == "" {
				t.Fatalf("frame %d: missing sender", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}

	entry.Shutdown.Fire()

	waitFor(t, "dialer side removal", func() bool { return reg2.Len() == 0 })
	waitFor(t, "listener side removal", func() bool { return reg1.Len() == 0 })

	if err := entry.Sender.Send([]byte{1}); err != peers.ErrPeerDisconnected {
		t.Fatalf("expected ErrPeerDisconnected, got %v", err)
	}
}

func TestNetworkTransport_KeepConnected(t *testing.T) {
	trans1, _ := newTestTransport(t)
	defer trans1.Close()

	trans2, reg2 := newTestTransport(t)
	defer trans2.Close()

	go trans2.KeepConnected([]string{trans1.LocalAddr(), trans2.AdvertiseAddr()}, 50*time.Millisecond)

	waitFor(t, "bootstrap connection", func() bool { return reg2.Len() == 1 })

	for _, e := range reg2.Entries() {
		e.Shutdown.Fire()
	}

	waitFor(t, "reconnection", func() bool {
		entries := reg2.Entries()
		return len(entries) == 1 && !entries[0].Shutdown.Fired()
	})
}

func TestNetworkTransport_MutualDial(t *testing.T) {
	trans1, reg1 := newTestTransport(t)
	defer trans1.Close()

	trans2, reg2 := newTestTransport(t)
	defer trans2.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		trans1.Dial(trans2.LocalAddr())
	}()
	go func() {
		defer wg.Done()
		trans2.Dial(trans1.LocalAddr())
	}()
	wg.Wait()

	settled := func() bool {
		e1, e2 := reg1.Entries(), reg2.Entries()
		if len(e1) != 1 || len(e2) != 1 {
			return false
		}
		// both ends keep the connection dialed by the lower address
		lower1 := trans1.AdvertiseAddr() < trans2.AdvertiseAddr()
		return e1[0].Peer.Outbound() == lower1 && e2[0].Peer.Outbound() == !lower1
	}
	waitFor(t, "a single connection", settled)

	if !trans1.Connected(trans2.LocalAddr()) || !trans2.Connected(trans1.LocalAddr()) {
		t.Fatal("both ends should report the other as connected")
	}

	low, high := trans1, trans2
	lowReg, highReg := reg1, reg2
	if trans2.AdvertiseAddr() < trans1.AdvertiseAddr() {
		low, high = trans2, trans1
		lowReg, highReg = reg2, reg1
	}
	lowKept, highKept := lowReg.Entries()[0].Peer, highReg.Entries()[0].Peer

	// a further dial from the higher address loses the tie-break on both ends
	if _, err := high.Dial(low.LocalAddr()); err != peers.ErrPeerExists {
		t.Fatalf("expected ErrPeerExists, got %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if lowReg.Len() != 1 || highReg.Len() != 1 {
		t.Fatalf("expected 1 peer on each side, got %d and %d", lowReg.Len(), highReg.Len())
	}
	if lowReg.Entries()[0].Peer != lowKept || highReg.Entries()[0].Peer != highKept {
		t.Fatal("kept connection was replaced by a losing dial")
	}
}

func TestNetworkTransport_SelfDial(t *testing.T) {
	trans, reg := newTestTransport(t)
	defer trans.Close()

	if _, err := trans.Dial(trans.LocalAddr()); err != ErrSelfConnection {
		t.Fatalf("expected ErrSelfConnection, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if reg.Len() != 0 {
		t.Fatalf("self connection registered: %d peers", reg.Len())
	}
}

func TestHandshake(t *testing.T) {
	a, b := gonet.Pipe()
	defer a.Close()
	defer b.Close()

	res := make(chan string, 1)
	go func() {
		remote, err := Handshake(b, "10.0.0.2:15600", time.Second)
		if err != nil {
			t.Error(err)
		}
		res <- remote
	}()

	remote, err := Handshake(a, "10.0.0.1:15600", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if remote != "10.0.0.2:15600" {
		t.Fatalf("unexpected identity %s", remote)
	}
	if other := <-res; other != "10.0.0.1:15600" {
		t.Fatalf("unexpected identity %s", other)
	}

	if _, err := Handshake(a, "", time.Second); err != ErrBadIdentity {
		t.Fatalf("expected ErrBadIdentity, got %v", err)
	}
}

func TestHandshakeRejectsEmptyIdentity(t *testing.T) {
	a, b := gonet.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		// a zero length byte, then drain the other end's identity
		b.Write([]byte{0})
		buf := make([]byte, 64)
		b.Read(buf)
	}()

	_, err := Handshake(a, "10.0.0.1:15600", time.Second)
	if errors.Cause(err) != ErrBadIdentity {
		t.Fatalf("expected ErrBadIdentity, got %v", err)
	}
}
