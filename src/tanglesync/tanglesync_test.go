package tanglesync

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/tanglesync/src/common"
	"github.com/mosaicnetworks/tanglesync/src/config"
	"github.com/mosaicnetworks/tanglesync/src/peers"
	"github.com/mosaicnetworks/tanglesync/src/tangle"
)

func newTestConf(t *testing.T, store bool) *config.Config {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(t.TempDir())
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true
	conf.Store = store
	conf.HeartbeatInterval = 50 * time.Millisecond
	conf.ReconnectInterval = 50 * time.Millisecond
	conf.Request.RetryInterval = 100 * time.Millisecond
	return conf
}

func testHistory(t *testing.T) []*tangle.Message {
	id := func(m *tangle.Message) tangle.MessageID {
		res, err := m.ID()
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	m1 := tangle.NewMessage([]tangle.MessageID{tangle.NullMessageID}, []byte("m1"), 1)
	ms1 := tangle.NewMilestoneMessage([]tangle.MessageID{id(m1)}, 1, 1000, 2)
	m2 := tangle.NewMessage([]tangle.MessageID{id(ms1), id(m1)}, []byte("m2"), 3)
	ms2 := tangle.NewMilestoneMessage([]tangle.MessageID{id(m2)}, 2, 2000, 4)

	return []*tangle.Message{m1, ms1, m2, ms2}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestInitStore(t *testing.T) {
	conf := newTestConf(t, true)

	engine := NewTanglesync(conf)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}

	for _, m := range testHistory(t) {
		if _, err := engine.Tangle.Insert(m); err != nil {
			t.Fatal(err)
		}
	}

	engine.Shutdown()

	// a second engine on the same database recovers the milestones
	engine2 := NewTanglesync(conf)
	if err := engine2.Init(); err != nil {
		t.Fatal(err)
	}
	defer engine2.Shutdown()

	status := engine2.Tangle.SyncStatus()
	if status.LatestMilestoneIndex != 2 || status.ConfirmedMilestoneIndex != 2 {
		t.Fatalf("reloaded status %+v", status)
	}
}

func TestInitPeersFile(t *testing.T) {
	conf := newTestConf(t, false)

	store := peers.NewJSONPeers(conf.DataDir)
	if err := store.SetAddresses([]string{"127.0.0.1:1"}); err != nil {
		t.Fatal(err)
	}

	engine := NewTanglesync(conf)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	defer engine.Shutdown()

	if len(engine.Bootstrap) != 1 || engine.Bootstrap[0] != "127.0.0.1:1" {
		t.Fatalf("unexpected bootstrap %v", engine.Bootstrap)
	}
	if engine.Service != nil {
		t.Fatal("service should be disabled")
	}
}

func TestBootstrapSync(t *testing.T) {
	confA := newTestConf(t, true)

	a := NewTanglesync(confA)
	if err := a.Init(); err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	history := testHistory(t)
	for _, m := range history {
		if _, err := a.Tangle.Insert(m); err != nil {
			t.Fatal(err)
		}
	}

	confB := newTestConf(t, false)
	if err := peers.NewJSONPeers(confB.DataDir).SetAddresses([]string{a.Transport.LocalAddr()}); err != nil {
		t.Fatal(err)
	}

	b := NewTanglesync(confB)
	if err := b.Init(); err != nil {
		t.Fatal(err)
	}
	defer b.Shutdown()

	go a.Run()
	go b.Run()

	waitFor(t, "solid milestone 2", func() bool {
		return b.Tangle.SolidMilestoneIndex() == 2
	})

	for _, m := range history {
		id, _ := m.ID()
		if !b.Tangle.Contains(id) {
			t.Fatalf("message %s missing after sync", id)
		}
	}

	waitFor(t, "registration on both sides", func() bool {
		return a.Registry.Len() == 1 && b.Registry.Len() == 1
	})
}

func TestMutualBootstrap(t *testing.T) {
	a := NewTanglesync(newTestConf(t, false))
	if err := a.Init(); err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	b := NewTanglesync(newTestConf(t, false))
	if err := b.Init(); err != nil {
		t.Fatal(err)
	}
	defer b.Shutdown()

	// each node lists the other in its peers.json
	a.Bootstrap = []string{b.Transport.LocalAddr()}
	b.Bootstrap = []string{a.Transport.LocalAddr()}

	go a.Run()
	go b.Run()

	// both ends settle on the connection dialed by the lower address
	aLower := a.Transport.AdvertiseAddr() < b.Transport.AdvertiseAddr()
	waitFor(t, "a single connection", func() bool {
		ea, eb := a.Registry.Entries(), b.Registry.Entries()
		return len(ea) == 1 && len(eb) == 1 &&
			ea[0].Peer.Outbound() == aLower && eb[0].Peer.Outbound() == !aLower
	})

	entryA, entryB := a.Registry.Entries()[0], b.Registry.Entries()[0]
	if entryA.Peer.ID() != peers.ID(b.Transport.AdvertiseAddr()) {
		t.Fatalf("a registered %s, expected %s", entryA.Peer.ID(), b.Transport.AdvertiseAddr())
	}
	if entryB.Peer.ID() != peers.ID(a.Transport.AdvertiseAddr()) {
		t.Fatalf("b registered %s, expected %s", entryB.Peer.ID(), a.Transport.AdvertiseAddr())
	}

	// several reconnect intervals pass without churn
	time.Sleep(500 * time.Millisecond)

	if a.Registry.Len() != 1 || b.Registry.Len() != 1 {
		t.Fatalf("expected a single registration each, got %d and %d", a.Registry.Len(), b.Registry.Len())
	}
	if a.Registry.Entries()[0].Peer != entryA.Peer || b.Registry.Entries()[0].Peer != entryB.Peer {
		t.Fatal("connection replaced after settling")
	}
}
