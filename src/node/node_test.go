package node

import (
	"bytes"
	gonet "net"
	"testing"
	"time"

	"github.com/mosaicnetworks/tanglesync/src/common"
	"github.com/mosaicnetworks/tanglesync/src/config"
	"github.com/mosaicnetworks/tanglesync/src/net"
	"github.com/mosaicnetworks/tanglesync/src/packet"
	"github.com/mosaicnetworks/tanglesync/src/peers"
	"github.com/mosaicnetworks/tanglesync/src/request"
	"github.com/mosaicnetworks/tanglesync/src/tangle"
)

func newTestConfig(t *testing.T) *config.Config {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.HeartbeatInterval = 50 * time.Millisecond
	conf.PeerTimeout = 5 * time.Second
	conf.Request = request.Config{
		RetryInterval:   100 * time.Millisecond,
		RetryCeiling:    50,
		Fanout:          1,
		RequestTimeout:  10 * time.Second,
		IterationBudget: 64,
	}
	return conf
}

func newTestNode(t *testing.T, messages ...*tangle.Message) (*Node, *net.NetworkTransport) {
	conf := newTestConfig(t)

	tg, err := tangle.New(tangle.NewInmemStorage(0), conf.Logger())
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range messages {
		if _, err := tg.Insert(m); err != nil {
			t.Fatal(err)
		}
	}

	registry := peers.NewRegistry(conf.SyncedThreshold, conf.PeerTimeout)

	trans, err := net.NewTCPTransport("127.0.0.1:0", "", registry, conf.OutboxSize, conf.TCPTimeout, conf.Logger())
	if err != nil {
		t.Fatal(err)
	}
	go trans.Listen()

	return NewNode(conf, tg, registry, trans), trans
}

func mustID(t *testing.T, m *tangle.Message) tangle.MessageID {
	id, err := m.ID()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

// testHistory returns a small tangle with two milestones:
// null <- m1 <- m2 <- ms1 <- m3 <- ms2
func testHistory(t *testing.T) []*tangle.Message {
	m1 := tangle.NewMessage([]tangle.MessageID{tangle.NullMessageID}, []byte("m1"), 1)
	m2 := tangle.NewMessage([]tangle.MessageID{mustID(t, m1)}, []byte("m2"), 2)
	ms1 := tangle.NewMilestoneMessage([]tangle.MessageID{mustID(t, m2)}, 1, 1000, 3)
	m3 := tangle.NewMessage([]tangle.MessageID{mustID(t, ms1)}, []byte("m3"), 4)
	ms2 := tangle.NewMilestoneMessage([]tangle.MessageID{mustID(t, m3), mustID(t, m1)}, 2, 2000, 5)
	return []*tangle.Message{m1, m2, ms1, m3, ms2}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestNodeSyncsFromNeighbour(t *testing.T) {
	history := testHistory(t)

	nodeB, transB := newTestNode(t, history...)
	defer nodeB.Shutdown()

	if nodeB.State() != Synced {
		t.Fatalf("node with full history should be Synced, is %s", nodeB.State())
	}

	nodeA, transA := newTestNode(t)
	defer nodeA.Shutdown()

	if nodeA.State() != Synchronizing {
		t.Fatalf("empty node should be Synchronizing, is %s", nodeA.State())
	}

	statusCh := nodeA.SubscribeSyncStatus()

	nodeA.RunAsync()
	nodeB.RunAsync()

	if _, err := transA.Dial(transB.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "solid milestone 2", func() bool {
		return nodeA.Tangle().SolidMilestoneIndex() == 2
	})

	for _, m := range history {
		if !nodeA.Tangle().Contains(mustID(t, m)) {
			t.Fatalf("message %s missing after sync", mustID(t, m))
		}
	}

	var last tangle.SyncStatus
	timeout := time.After(2 * time.Second)
	for last.ConfirmedMilestoneIndex != 2 {
		select {
		case last = <-statusCh:
		case <-timeout:
			t.Fatalf("no sync status with lsmi 2, last %+v", last)
		}
	}

	waitFor(t, time.Second, "Synced state", func() bool { return nodeA.State() == Synced })

	waitFor(t, 2*time.Second, "drained trackers", func() bool {
		return nodeA.MessageTracker().Len() == 0
	})

	stats := nodeA.GetStats()
	if stats["solid_milestone"] != "2" || stats["connected_peers"] != "1" {
		t.Fatalf("unexpected stats %v", stats)
	}

	waitFor(t, 2*time.Second, "peer heartbeat", func() bool {
		infos := nodeA.GetPeers()
		return len(infos) == 1 && infos[0].LatestMilestoneIndex == 2 && infos[0].Synced
	})

	if m := nodeA.GetStats()["network_milestone"]; m != "2" {
		t.Fatalf("expected network milestone 2, got %s", m)
	}
}

const pipeIdentity = "10.1.1.1:15600"

// pipePeer connects a raw pipe to the node's transport and collects the
// frames the node writes to it.
type pipePeer struct {
	conn   gonet.Conn
	frames chan net.Inbound
}

func newPipePeer(t *testing.T, trans *net.NetworkTransport) (*pipePeer, peers.ID) {
	client, server := gonet.Pipe()

	handshake := make(chan error, 1)
	go func() {
		_, err := net.Handshake(client, pipeIdentity, time.Second)
		handshake <- err
	}()

	id, err := trans.Connect(server, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-handshake; err != nil {
		t.Fatal(err)
	}

	p := &pipePeer{
		conn:   client,
		frames: make(chan net.Inbound, 128),
	}

	go func() {
		for {
			h, payload, err := packet.ReadFrame(client)
			if err != nil {
				close(p.frames)
				return
			}
			p.frames <- net.Inbound{Header: h, Payload: payload}
		}
	}()

	return p, id
}

func (p *pipePeer) write(t *testing.T, frame []byte) {
	p.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := p.conn.Write(frame); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

func (p *pipePeer) send(t *testing.T, pkt packet.Packet) {
	frame, err := packet.Encode(pkt)
	if err != nil {
		t.Fatal(err)
	}
	p.write(t, frame)
}

// expect returns the next frame of the given kind, skipping heartbeats and
// other kinds.
func (p *pipePeer) expect(t *testing.T, kind packet.Kind) packet.Packet {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case in, ok := <-p.frames:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", kind)
			}
			if in.Header.Type != uint8(kind) {
				continue
			}
			pkt, err := packet.Decode(kind, in.Header, in.Payload)
			if err != nil {
				t.Fatalf("node sent an invalid frame: %v", err)
			}
			return pkt
		case <-timeout:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestNodeAnswersRequests(t *testing.T) {
	history := testHistory(t)

	node, trans := newTestNode(t, history...)
	defer node.Shutdown()
	node.RunAsync()

	peer, _ := newPipePeer(t, trans)

	m2 := history[1]
	peer.send(t, &packet.MessageRequest{MessageID: mustID(t, m2)})

	reply := peer.expect(t, packet.MessageKind).(*packet.Message)
	expected, _ := m2.Pack()
	if !bytes.Equal(reply.Bytes, expected) {
		t.Fatal("MessageRequest answered with the wrong message")
	}

	peer.send(t, &packet.MilestoneRequest{Index: 0})

	reply = peer.expect(t, packet.MessageKind).(*packet.Message)
	latest, err := tangle.UnpackMessage(reply.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if !latest.IsMilestone() || latest.Milestone.Index != 2 {
		t.Fatal("MilestoneRequest(0) should return the latest milestone")
	}

	peer.send(t, &packet.MilestoneRequest{Index: 1})

	reply = peer.expect(t, packet.MessageKind).(*packet.Message)
	ms1, _ := history[2].Pack()
	if !bytes.Equal(reply.Bytes, ms1) {
		t.Fatal("MilestoneRequest(1) answered with the wrong message")
	}
}

func TestNodeRequestsAdvertisedMilestones(t *testing.T) {
	node, trans := newTestNode(t)
	defer node.Shutdown()
	node.RunAsync()

	peer, id := newPipePeer(t, trans)

	peer.send(t, &packet.Heartbeat{
		SolidMilestoneIndex:  3,
		LatestMilestoneIndex: 3,
		ConnectedPeers:       4,
		SyncedPeers:          2,
	})

	wanted := map[uint32]bool{1: true, 2: true, 3: true}
	for len(wanted) > 0 {
		req := peer.expect(t, packet.MilestoneRequestKind).(*packet.MilestoneRequest)
		delete(wanted, req.Index)
	}

	entry, ok := node.Registry().Get(id)
	if !ok {
		t.Fatal("pipe peer not registered")
	}
	hb, _, ok := entry.Peer.Heartbeat()
	if !ok || hb.ConnectedPeers != 4 {
		t.Fatalf("heartbeat not recorded: %+v", hb)
	}
}

func TestNodeDropsInvalidFrames(t *testing.T) {
	node, trans := newTestNode(t)
	defer node.Shutdown()
	node.RunAsync()

	peer, id := newPipePeer(t, trans)

	// a MessageRequest tag with a 2 byte payload
	peer.write(t, []byte{uint8(packet.MessageRequestKind), 2, 0, 0xaa, 0xbb})
	// an unknown tag
	peer.write(t, []byte{9, 1, 0, 0})
	// a Message packet whose content is not a ledger message
	peer.send(t, &packet.Message{Bytes: []byte{0}})

	entry, ok := node.Registry().Get(id)
	if !ok {
		t.Fatal("pipe peer not registered")
	}

	waitFor(t, 2*time.Second, "misbehaviour count", func() bool {
		return entry.Peer.Misbehaviour() == 3
	})

	// the connection survives invalid frames
	history := testHistory(t)
	m1, _ := history[0].Pack()
	peer.send(t, &packet.Message{Bytes: m1})

	waitFor(t, 2*time.Second, "message insertion", func() bool {
		return node.Tangle().Contains(mustID(t, history[0]))
	})

	if node.GetStats()["invalid_packets"] != "3" {
		t.Fatalf("expected 3 invalid packets, stats %v", node.GetStats())
	}
}

func TestNodeShutdown(t *testing.T) {
	node, trans := newTestNode(t)
	node.RunAsync()

	statusCh := node.SubscribeSyncStatus()

	_, id := newPipePeer(t, trans)
	entry, ok := node.Registry().Get(id)
	if !ok {
		t.Fatal("pipe peer not registered")
	}

	node.Shutdown()
	node.Shutdown()

	if node.State() != Shutdown {
		t.Fatalf("expected Shutdown state, got %s", node.State())
	}

	if !entry.Shutdown.Fired() {
		t.Fatal("peer shutdown handle not fired")
	}

	if !node.Registry().IsEmpty() {
		t.Fatal("registry should be empty after shutdown")
	}

	if _, ok := <-statusCh; ok {
		t.Fatal("status channel should be closed")
	}
}
