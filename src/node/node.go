package node

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/tanglesync/src/common"
	"github.com/mosaicnetworks/tanglesync/src/config"
	"github.com/mosaicnetworks/tanglesync/src/net"
	"github.com/mosaicnetworks/tanglesync/src/packet"
	"github.com/mosaicnetworks/tanglesync/src/peers"
	"github.com/mosaicnetworks/tanglesync/src/request"
	"github.com/mosaicnetworks/tanglesync/src/tangle"
	"github.com/mosaicnetworks/tanglesync/src/telemetry"
)

const subscriberBuffer = 16

// Node is the sync coordinator. It consumes the frames read by the
// transport, feeds the tangle, answers requests and asks neighbours for the
// messages and milestones the tangle is missing.
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	tangle   *tangle.Tangle
	registry *peers.Registry

	trans net.Transport
	netCh <-chan net.Inbound

	messages   *request.Tracker[tangle.MessageID]
	milestones *request.Tracker[tangle.MilestoneIndex]

	controlTimer *ControlTimer

	subLock     sync.Mutex
	subscribers []chan tangle.SyncStatus
	lastStatus  tangle.SyncStatus

	runLock    sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	shutdownCh chan struct{}
	closeOnce  sync.Once

	start          time.Time
	packetsIn      uint64
	packetsOut     uint64
	invalidPackets uint64
}

// NewNode is a factory method that returns a Node instance
func NewNode(conf *config.Config,
	tg *tangle.Tangle,
	registry *peers.Registry,
	trans net.Transport,
) *Node {
	logger := conf.Logger().WithField("node", trans.AdvertiseAddr())

	ctx, cancel := context.WithCancel(context.Background())

	node := &Node{
		conf:         conf,
		logger:       logger,
		tangle:       tg,
		registry:     registry,
		trans:        trans,
		netCh:        trans.Consumer(),
		controlTimer: NewRandomControlTimer(),
		ctx:          ctx,
		cancel:       cancel,
		shutdownCh:   make(chan struct{}),
		lastStatus:   tg.SyncStatus(),
		start:        time.Now(),
	}

	node.messages = request.NewTracker[tangle.MessageID](
		"message",
		conf.Request,
		registry,
		frameMessageRequest,
		logger,
	)

	node.milestones = request.NewTracker[tangle.MilestoneIndex](
		"milestone",
		conf.Request,
		registry,
		frameMilestoneRequest,
		logger,
	)

	node.updateState(node.lastStatus)

	return node
}

func frameMessageRequest(id tangle.MessageID) ([]byte, error) {
	return packet.Encode(&packet.MessageRequest{MessageID: id})
}

func frameMilestoneRequest(index tangle.MilestoneIndex) ([]byte, error) {
	return packet.Encode(&packet.MilestoneRequest{Index: uint32(index)})
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	go n.Run()
}

// Run invokes the main loop of the node. It returns when the node is shut
// down.
func (n *Node) Run() {
	n.runLock.Lock()
	if n.getState() == Shutdown {
		n.runLock.Unlock()
		return
	}
	n.goFunc(func() { n.messages.Run(n.ctx) })
	n.goFunc(func() { n.milestones.Run(n.ctx) })
	n.goFunc(n.dispatch)
	n.runLock.Unlock()

	go n.controlTimer.Run(n.conf.HeartbeatInterval)

	for {
		select {
		case <-n.controlTimer.tickCh:
			n.heartbeat()
			n.dropSilentPeers()
			n.updatePeerGauges()
			n.controlTimer.Reset(n.conf.HeartbeatInterval)
		case <-n.shutdownCh:
			return
		}
	}
}

// dispatch processes inbound frames one at a time, which keeps the frames of
// each peer in arrival order.
func (n *Node) dispatch() {
	for {
		select {
		case in := <-n.netCh:
			n.processInbound(in)
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) processInbound(in net.Inbound) {
	entry, ok := n.registry.Get(in.From)
	if !ok {
		n.logger.WithField("peer", in.From).Debug("Frame from unregistered peer")
		return
	}

	atomic.AddUint64(&n.packetsIn, 1)

	p, err := packet.Parse(in.Header, in.Payload)
	if err != nil {
		n.misbehave(entry, err)
		return
	}

	telemetry.Packets.WithLabelValues(p.Kind().String(), "in").Inc()

	switch p := p.(type) {
	case *packet.Message:
		n.processMessage(entry, p)
	case *packet.MessageRequest:
		n.processMessageRequest(entry, p)
	case *packet.MilestoneRequest:
		n.processMilestoneRequest(entry, p)
	case *packet.Heartbeat:
		n.processHeartbeat(entry, p)
	}
}

func (n *Node) misbehave(entry peers.Entry, err error) {
	count := entry.Peer.Misbehave()
	atomic.AddUint64(&n.invalidPackets, 1)

	errType := "unknown"
	if perr, ok := errors.Cause(err).(packet.Error); ok {
		errType = perr.Type.String()
	}
	telemetry.InvalidPackets.WithLabelValues(errType).Inc()

	n.logger.WithFields(logrus.Fields{
		"peer":         entry.ID(),
		"misbehaviour": count,
		"error":        err,
	}).Debug("Dropping invalid frame")
}

func (n *Node) processMessage(entry peers.Entry, p *packet.Message) {
	m, err := tangle.UnpackMessage(p.Bytes)
	if err != nil {
		n.misbehave(entry, err)
		return
	}

	id, _ := m.ID()

	n.messages.Receive(id)
	if m.IsMilestone() {
		n.milestones.Receive(m.Milestone.Index)
		if m.Milestone.Index >= n.tangle.LatestMilestoneIndex() {
			n.milestones.Receive(0)
		}
	}

	res, err := n.tangle.Insert(m)
	if err != nil {
		n.logger.WithError(err).WithField("message_id", id).Error("Inserting message")
		return
	}

	if res.Inserted {
		n.logger.WithFields(logrus.Fields{
			"peer":       entry.ID(),
			"message_id": id,
			"missing":    len(res.Missing),
		}).Debug("New message")
	}

	for _, parent := range res.Missing {
		n.messages.Request(parent)
	}

	if m.IsMilestone() {
		n.requestMilestones(n.tangle.LatestMilestoneIndex())
	}

	n.publishStatus()
}

func (n *Node) processMessageRequest(entry peers.Entry, p *packet.MessageRequest) {
	m, ok := n.tangle.Get(tangle.MessageID(p.MessageID))
	if !ok {
		return
	}
	n.sendMessage(entry, m)
}

func (n *Node) processMilestoneRequest(entry peers.Entry, p *packet.MilestoneRequest) {
	index := tangle.MilestoneIndex(p.Index)
	if index == 0 {
		index = n.tangle.LatestMilestoneIndex()
	}

	m, ok := n.tangle.MilestoneMessage(index)
	if !ok {
		return
	}
	n.sendMessage(entry, m)
}

func (n *Node) sendMessage(entry peers.Entry, m *tangle.Message) {
	b, err := m.Pack()
	if err != nil {
		n.logger.WithError(err).Error("Packing message")
		return
	}

	frame, err := packet.Encode(&packet.Message{Bytes: b})
	if err != nil {
		n.logger.WithError(err).Error("Framing message")
		return
	}

	n.send(entry, packet.MessageKind, frame)
}

func (n *Node) send(entry peers.Entry, kind packet.Kind, frame []byte) {
	if err := entry.Sender.Send(frame); err != nil {
		n.logger.WithFields(logrus.Fields{
			"peer":  entry.ID(),
			"kind":  kind,
			"error": err,
		}).Debug("Send failed")
		return
	}
	atomic.AddUint64(&n.packetsOut, 1)
	telemetry.Packets.WithLabelValues(kind.String(), "out").Inc()
}

func (n *Node) processHeartbeat(entry peers.Entry, p *packet.Heartbeat) {
	entry.Peer.SetHeartbeat(*p, time.Now())

	if tangle.MilestoneIndex(p.LatestMilestoneIndex) > n.tangle.LatestMilestoneIndex() {
		n.requestMilestones(tangle.MilestoneIndex(p.LatestMilestoneIndex))
	}
}

// requestMilestones requests the milestones missing between the solid
// milestone and target, at most MilestoneRequestWindow of them.
func (n *Node) requestMilestones(target tangle.MilestoneIndex) {
	solid := n.tangle.SolidMilestoneIndex()

	limit := solid + tangle.MilestoneIndex(n.conf.MilestoneRequestWindow)
	if limit < solid {
		limit = ^tangle.MilestoneIndex(0)
	}
	if target > limit {
		target = limit
	}

	for index := solid + 1; index <= target && index > solid; index++ {
		if _, ok := n.tangle.MilestoneMessage(index); ok {
			continue
		}
		n.milestones.Request(index)
	}
}

// heartbeat sends our milestone indexes and peer counts to every neighbour.
func (n *Node) heartbeat() {
	status := n.tangle.SyncStatus()

	hb := &packet.Heartbeat{
		SolidMilestoneIndex:  uint32(status.ConfirmedMilestoneIndex),
		LatestMilestoneIndex: uint32(status.LatestMilestoneIndex),
		ConnectedPeers:       clampUint8(n.registry.ConnectedPeers()),
		SyncedPeers:          clampUint8(n.registry.SyncedPeers()),
	}

	frame, err := packet.Encode(hb)
	if err != nil {
		n.logger.WithError(err).Error("Framing heartbeat")
		return
	}

	for _, e := range n.registry.Entries() {
		n.send(e, packet.HeartbeatKind, frame)
	}

	if status.LatestMilestoneIndex == 0 && !n.registry.IsEmpty() {
		n.milestones.Request(0)
	}
}

// dropSilentPeers shuts down the peers that sent nothing for PeerTimeout.
func (n *Node) dropSilentPeers() {
	if n.conf.PeerTimeout <= 0 {
		return
	}

	now := time.Now()
	for _, e := range n.registry.Entries() {
		if now.Sub(e.Peer.LastSeen()) > n.conf.PeerTimeout {
			n.logger.WithField("peer", e.ID()).Warn("Peer timed out")
			e.Shutdown.Fire()
		}
	}
}

func (n *Node) updatePeerGauges() {
	telemetry.ConnectedPeers.Set(float64(n.registry.ConnectedPeers()))
	telemetry.SyncedPeers.Set(float64(n.registry.SyncedPeers()))
}

// SubscribeSyncStatus returns a channel receiving the sync status every time
// the latest or solid milestone index changes. Updates are dropped for a
// subscriber that does not keep up. The channel is closed on Shutdown.
func (n *Node) SubscribeSyncStatus() <-chan tangle.SyncStatus {
	n.subLock.Lock()
	defer n.subLock.Unlock()

	ch := make(chan tangle.SyncStatus, subscriberBuffer)
	if n.getState() == Shutdown {
		close(ch)
		return ch
	}

	n.subscribers = append(n.subscribers, ch)
	return ch
}

func (n *Node) publishStatus() {
	status := n.tangle.SyncStatus()

	n.subLock.Lock()
	defer n.subLock.Unlock()

	if status == n.lastStatus {
		return
	}
	n.lastStatus = status

	telemetry.MilestoneIndex.WithLabelValues("latest").Set(float64(status.LatestMilestoneIndex))
	telemetry.MilestoneIndex.WithLabelValues("solid").Set(float64(status.ConfirmedMilestoneIndex))

	n.updateState(status)

	n.logger.WithFields(logrus.Fields{
		"lmi":  status.LatestMilestoneIndex,
		"lsmi": status.ConfirmedMilestoneIndex,
	}).Info("Sync status")

	for _, ch := range n.subscribers {
		select {
		case ch <- status:
		default:
		}
	}
}

func (n *Node) updateState(status tangle.SyncStatus) {
	cur := n.getState()
	if cur == Shutdown {
		return
	}

	next := Synchronizing
	if status.LatestMilestoneIndex > 0 && status.ConfirmedMilestoneIndex >= status.LatestMilestoneIndex {
		next = Synced
	}

	n.swapState(cur, next)
}

// Shutdown stops the node, fires the shutdown handle of every peer, closes
// the transport and the tangle.
func (n *Node) Shutdown() {
	n.closeOnce.Do(func() {
		n.logger.Debug("Shutdown")

		n.runLock.Lock()
		n.setState(Shutdown)
		n.runLock.Unlock()

		close(n.shutdownCh)
		n.cancel()
		n.controlTimer.Shutdown()

		n.registry.ShutdownAll()

		n.waitRoutines()

		if err := n.trans.Close(); err != nil {
			n.logger.WithError(err).Debug("Closing transport")
		}

		if err := n.tangle.Close(); err != nil {
			n.logger.WithError(err).Error("Closing tangle")
		}

		n.subLock.Lock()
		for _, ch := range n.subscribers {
			close(ch)
		}
		n.subscribers = nil
		n.subLock.Unlock()
	})
}

// State returns the current state.
func (n *Node) State() State {
	return n.getState()
}

// Tangle ...
func (n *Node) Tangle() *tangle.Tangle {
	return n.tangle
}

// Registry ...
func (n *Node) Registry() *peers.Registry {
	return n.registry
}

// MessageTracker ...
func (n *Node) MessageTracker() *request.Tracker[tangle.MessageID] {
	return n.messages
}

// MilestoneTracker ...
func (n *Node) MilestoneTracker() *request.Tracker[tangle.MilestoneIndex] {
	return n.milestones
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	status := n.tangle.SyncStatus()

	uptime := time.Since(n.start).Round(time.Second)

	var advertised []uint32
	for _, e := range n.registry.Entries() {
		if hb, _, ok := e.Peer.Heartbeat(); ok {
			advertised = append(advertised, hb.LatestMilestoneIndex)
		}
	}

	return map[string]string{
		"latest_milestone":   strconv.FormatUint(uint64(status.LatestMilestoneIndex), 10),
		"solid_milestone":    strconv.FormatUint(uint64(status.ConfirmedMilestoneIndex), 10),
		"network_milestone":  strconv.FormatUint(uint64(common.Median(advertised)), 10),
		"connected_peers":    strconv.Itoa(n.registry.ConnectedPeers()),
		"synced_peers":       strconv.Itoa(n.registry.SyncedPeers()),
		"pending_messages":   strconv.Itoa(n.messages.Len()),
		"pending_milestones": strconv.Itoa(n.milestones.Len()),
		"packets_in":         strconv.FormatUint(atomic.LoadUint64(&n.packetsIn), 10),
		"packets_out":        strconv.FormatUint(atomic.LoadUint64(&n.packetsOut), 10),
		"invalid_packets":    strconv.FormatUint(atomic.LoadUint64(&n.invalidPackets), 10),
		"state":              n.getState().String(),
		"uptime":             uptime.String(),
	}
}

// PeerInfo is the public view of a connected peer.
type PeerInfo struct {
	ID                   string    `json:"id"`
	Address              string    `json:"address"`
	Outbound             bool      `json:"outbound"`
	SolidMilestoneIndex  uint32    `json:"solid_milestone_index"`
	LatestMilestoneIndex uint32    `json:"latest_milestone_index"`
	ConnectedPeers       uint8     `json:"connected_peers"`
	SyncedPeers          uint8     `json:"synced_peers"`
	LastSeen             time.Time `json:"last_seen"`
	Synced               bool      `json:"synced"`
	Misbehaviour         uint32    `json:"misbehaviour"`
}

// GetPeers returns the connected peers in fairness order.
func (n *Node) GetPeers() []PeerInfo {
	now := time.Now()

	entries := n.registry.Entries()
	res := make([]PeerInfo, 0, len(entries))
	for _, e := range entries {
		hb, _, _ := e.Peer.Heartbeat()
		res = append(res, PeerInfo{
			ID:                   string(e.ID()),
			Address:              e.Peer.Address(),
			Outbound:             e.Peer.Outbound(),
			SolidMilestoneIndex:  hb.SolidMilestoneIndex,
			LatestMilestoneIndex: hb.LatestMilestoneIndex,
			ConnectedPeers:       hb.ConnectedPeers,
			SyncedPeers:          hb.SyncedPeers,
			LastSeen:             e.Peer.LastSeen(),
			Synced:               e.Peer.IsSynced(n.conf.SyncedThreshold, n.conf.PeerTimeout, now),
			Misbehaviour:         e.Peer.Misbehaviour(),
		})
	}
	return res
}

func clampUint8(i int) uint8 {
	if i > 255 {
		return 255
	}
	if i < 0 {
		return 0
	}
	return uint8(i)
}
