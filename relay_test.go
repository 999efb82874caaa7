package confrelay

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/opd-ai/confrelay/config"
	"github.com/opd-ai/confrelay/transport"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort returns a port that was free on addr a moment ago.
func freePort(t *testing.T, addr string) int {
	t.Helper()
	ln, err := transport.Listen(context.Background(), netip.MustParseAddrPort(addr+":0"), transport.Options{})
	require.NoError(t, err)
	defer ln.Close()
	return int(ln.Addr().Port())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.NodeID = 9
	cfg.LogLevel = "debug"
	cfg.Relay.LocalAddress = "127.0.0.1"
	cfg.Relay.UplinkPort = freePort(t, "127.0.0.1")
	cfg.Relay.DownlinkPort = 40000 + cfg.Relay.UplinkPort%20000
	if cfg.Relay.UplinkPort >= cfg.Relay.DownlinkPort && cfg.Relay.UplinkPort < cfg.Relay.DownlinkPort+256 {
		cfg.Relay.DownlinkPort += 256
	}
	cfg.Relay.PeerDownlinkPort = freePort(t, "127.0.0.1")
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Relay.FrameRate = 0
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRunFailsOnUplinkBind(t *testing.T) {
	cfg := testConfig(t)
	busy, err := transport.Listen(context.Background(), cfg.Relay.UplinkAddr(), transport.Options{})
	require.NoError(t, err)
	defer busy.Close()

	r, err := New(cfg, nil)
	require.NoError(t, err)

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsBindError(err))
}

func TestNewCarriesNodeIDIntoComponentLogs(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	cfg := testConfig(t)
	r, err := New(cfg, logrus.NewEntry(logger))
	require.NoError(t, err)

	_, err = r.registry.Add(netip.MustParseAddr("127.0.0.9"))
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Link allocated", entry.Message)
	assert.Equal(t, cfg.NodeID, entry.Data["node_id"])
}

func TestStopEndsRun(t *testing.T) {
	r, err := New(testConfig(t), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case <-r.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("relay not ready")
	}
	assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyStarted)

	s, err := r.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, s.ActiveLinks)
	assert.True(t, s.Sampling, "sampler runs from start")
	assert.WithinDuration(t, time.Now(), s.Taken, 5*time.Second)

	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	_, err = r.Stats(context.Background())
	assert.Error(t, err)
}
