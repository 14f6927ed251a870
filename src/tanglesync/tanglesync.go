// Package tanglesync assembles a node from its configuration: storage,
// transport, sync coordinator and HTTP service.
package tanglesync

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/tanglesync/src/config"
	"github.com/mosaicnetworks/tanglesync/src/net"
	"github.com/mosaicnetworks/tanglesync/src/node"
	"github.com/mosaicnetworks/tanglesync/src/peers"
	"github.com/mosaicnetworks/tanglesync/src/service"
	"github.com/mosaicnetworks/tanglesync/src/tangle"
	"github.com/mosaicnetworks/tanglesync/src/telemetry"
	"github.com/mosaicnetworks/tanglesync/src/version"
)

// Tanglesync is the engine wiring the components of a node together.
type Tanglesync struct {
	Config    *config.Config
	Tangle    *tangle.Tangle
	Registry  *peers.Registry
	Transport *net.NetworkTransport
	Node      *node.Node
	Service   *service.Service

	// Bootstrap is the list of addresses read from peers.json.
	Bootstrap []string

	logger *logrus.Entry
}

// NewTanglesync ...
func NewTanglesync(conf *config.Config) *Tanglesync {
	return &Tanglesync{
		Config: conf,
		logger: conf.Logger(),
	}
}

func (t *Tanglesync) initStore() error {
	var storage tangle.Storage

	if !t.Config.Store {
		storage = tangle.NewInmemStorage(t.Config.Request.IterationBudget)

		t.logger.Debug("created new in-mem store")
	} else {
		t.logger.WithField("path", t.Config.DatabaseDir).Debug("Attempting to load or create database")

		bs, err := tangle.NewBadgerStorage(t.Config.DatabaseDir, t.Config.Request.IterationBudget, t.logger)
		if err != nil {
			return err
		}

		storage = bs
	}

	tg, err := tangle.New(storage, t.logger)
	if err != nil {
		storage.Close()
		return err
	}

	t.Tangle = tg

	return nil
}

func (t *Tanglesync) initPeers() error {
	peerStore := peers.NewJSONPeers(t.Config.DataDir)

	addrs, err := peerStore.Addresses()
	if err != nil {
		return fmt.Errorf("reading %s: %v", peerStore.Path(), err)
	}

	t.Bootstrap = addrs
	t.Registry = peers.NewRegistry(t.Config.SyncedThreshold, t.Config.PeerTimeout)

	t.logger.WithField("bootstrap", len(addrs)).Debug("Loaded peers.json")

	return nil
}

func (t *Tanglesync) initTransport() error {
	trans, err := net.NewTCPTransport(
		t.Config.BindAddr,
		t.Config.AdvertiseAddr,
		t.Registry,
		t.Config.OutboxSize,
		t.Config.TCPTimeout,
		t.logger,
	)
	if err != nil {
		return err
	}

	t.Transport = trans

	return nil
}

func (t *Tanglesync) initNode() error {
	t.Node = node.NewNode(t.Config, t.Tangle, t.Registry, t.Transport)
	return nil
}

func (t *Tanglesync) initService() error {
	if !t.Config.NoService && t.Config.ServiceAddr != "" {
		t.Service = service.NewService(t.Config.ServiceAddr, t.Node, t.logger)
	}
	return nil
}

// Init creates every component. Run starts them.
func (t *Tanglesync) Init() error {
	telemetry.SetBuildInfo(version.Version)

	if err := t.initPeers(); err != nil {
		return err
	}

	if err := t.initStore(); err != nil {
		return err
	}

	if err := t.initTransport(); err != nil {
		t.Tangle.Close()
		return err
	}

	if err := t.initNode(); err != nil {
		return err
	}

	return t.initService()
}

// Run starts accepting connections, dials the bootstrap addresses and runs
// the node until Shutdown is called. This is a blocking call.
func (t *Tanglesync) Run() {
	if t.Service != nil {
		go t.Service.Serve()
	}

	go t.Transport.Listen()

	if len(t.Bootstrap) > 0 {
		go t.Transport.KeepConnected(t.Bootstrap, t.Config.ReconnectInterval)
	}

	t.logger.WithFields(logrus.Fields{
		"listen":    t.Transport.LocalAddr(),
		"advertise": t.Transport.AdvertiseAddr(),
		"version":   version.Version,
	}).Info("Running tanglesync")

	t.Node.Run()
}

// Shutdown stops the node, which closes the transport and the storage.
func (t *Tanglesync) Shutdown() {
	if t.Node != nil {
		t.Node.Shutdown()
	}
}
