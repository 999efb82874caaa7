package confrelay

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/opd-ai/confrelay/config"
	"github.com/opd-ai/confrelay/congestion"
	"github.com/opd-ai/confrelay/eventloop"
	"github.com/opd-ai/confrelay/forwarder"
	"github.com/opd-ai/confrelay/link"
	"github.com/opd-ai/confrelay/metrics"
	"github.com/opd-ai/confrelay/ratelimit"
	"github.com/opd-ai/confrelay/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// errStopped is the cancellation cause used by Stop.
var errStopped = errors.New("relay stopped")

// ErrAlreadyStarted indicates Run was called more than once
var ErrAlreadyStarted = errors.New("relay already started")

// peerConns holds the connections of one link. Only the loop touches it.
type peerConns struct {
	uplink   *transport.Conn
	downlink *transport.Conn
}

// Relay is one conference relay instance.
type Relay struct {
	cfg  *config.Config
	log  *logrus.Entry
	opts transport.Options

	loop      *eventloop.Loop
	registry  *link.Registry
	session   *ratelimit.Session
	sampler   *congestion.Sampler
	forwarder *forwarder.Forwarder

	promRegistry  *prometheus.Registry
	metrics       *metrics.RelayMetrics
	metricsServer *metrics.Server

	// conns is owned by the loop goroutine.
	conns map[link.ID]*peerConns

	mu       sync.Mutex
	started  bool
	cancel   context.CancelCauseFunc
	listener *transport.Listener
	ready    chan struct{}
}

// New creates a relay from cfg. A nil log uses the standard logger.
func New(cfg *config.Config, log *logrus.Entry) (*Relay, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("node_id", cfg.NodeID)

	registry := link.NewRegistry(cfg.Relay.MaxSendQueue, log)
	session := ratelimit.NewSession()

	promRegistry := metrics.NewRegistry()
	m := metrics.NewRelayMetrics(promRegistry)

	r := &Relay{
		cfg: cfg,
		log: log,
		opts: transport.Options{
			WriteQueue: cfg.Relay.WriteQueue,
			Pacing:     cfg.Relay.Pacing,
			Log:        log,
		},
		loop:         eventloop.New(cfg.Relay.EventQueue, nil, log),
		registry:     registry,
		session:      session,
		sampler:      congestion.NewSampler(registry, uint32(cfg.Relay.FrameRate), uint32(cfg.Relay.WindowRTTScale), m, log),
		forwarder:    forwarder.New(registry, session, m, log),
		promRegistry: promRegistry,
		metrics:      m,
		conns:        make(map[link.ID]*peerConns),
		ready:        make(chan struct{}),
	}

	if cfg.Metrics.Enabled {
		r.metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, cfg.Metrics.HealthPath, promRegistry, log)
		r.metricsServer.SetHealthCheck(r.health)
	}

	return r, nil
}

// Registry returns the Prometheus registry holding the relay's collectors.
func (r *Relay) Registry() *prometheus.Registry {
	return r.promRegistry
}

// Ready is closed once the uplink listener is bound.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// UplinkAddr returns the bound uplink address, or the zero value before
// Ready.
func (r *Relay) UplinkAddr() netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return netip.AddrPort{}
	}
	return r.listener.Addr()
}

// Run binds the uplink listener and serves the conference until ctx is done
// or Stop is called. A bind failure on the listener or on any downlink
// aborts Run with the error. Buffered frames are discarded on return.
func (r *Relay) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	ctx, cancel := context.WithCancelCause(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel(nil)

	ln, err := transport.Listen(ctx, r.cfg.Relay.UplinkAddr(), r.opts)
	if err != nil {
		return fmt.Errorf("bind uplink: %w", err)
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Listen(); err != nil {
			_ = ln.Close()
			return fmt.Errorf("bind metrics: %w", err)
		}
	}

	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()
	r.loop.Post(func() { r.sampler.Start(r.loop) })
	close(r.ready)

	r.log.WithFields(logrus.Fields{
		"function":      "Run",
		"uplink":        ln.Addr().String(),
		"downlink_port": r.cfg.Relay.DownlinkPort,
		"peer_port":     r.cfg.Relay.PeerDownlinkPort,
		"frame_rate":    r.cfg.Relay.FrameRate,
	}).Info("Relay started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = r.loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return r.acceptLoop(gctx, ln)
	})
	if r.metricsServer != nil {
		g.Go(func() error {
			return r.metricsServer.Serve(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		r.loop.Stop()
		return nil
	})

	groupErr := g.Wait()
	r.teardown()

	cause := context.Cause(ctx)
	switch {
	case groupErr != nil:
		return groupErr
	case errors.Is(cause, errStopped), errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		r.log.WithField("function", "Run").Info("Relay stopped")
		return nil
	default:
		r.log.WithFields(logrus.Fields{
			"function": "Run",
			"error":    cause.Error(),
		}).Error("Relay aborted")
		return cause
	}
}

// Stop ends Run. Pending frames are discarded, not flushed.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel(errStopped)
	}
}

// abort ends Run with a fatal error.
func (r *Relay) abort(err error) {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel(err)
	}
}

func (r *Relay) acceptLoop(ctx context.Context, ln *transport.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) || ctx.Err() != nil {
				return nil
			}
			r.log.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"error":    err.Error(),
			}).Warn("Accept failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		if !r.loop.Post(func() { r.onAccept(ctx, c) }) {
			_ = c.Close()
			return nil
		}
	}
}

// onAccept runs on the loop.
func (r *Relay) onAccept(ctx context.Context, c *transport.Conn) {
	peer := c.PeerIdentity()
	l, err := r.registry.Add(peer)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"function": "onAccept",
			"peer":     c.RemoteAddr().String(),
			"error":    err.Error(),
		}).Warn("Rejecting uplink")
		r.metrics.RecordLinkEvent("rejected")
		_ = c.Close()
		return
	}

	id := l.ID
	l.Uplink = c
	r.conns[id] = &peerConns{uplink: c}
	r.metrics.RecordLinkEvent("accepted")
	r.metrics.UpdateLinkCounts(r.registry.Active(), r.session.Degraded())

	c.Start(transport.Handlers{
		OnFrame: func(frame []byte) {
			r.loop.Post(func() { r.forwarder.HandlePacket(id, frame) })
		},
		OnClose: func(err error) {
			r.loop.Post(func() { r.onUplinkClosed(id, c, err) })
		},
	})

	local := r.cfg.Relay.DownlinkAddr(int(id))
	remote := netip.AddrPortFrom(peer, uint16(r.cfg.Relay.PeerDownlinkPort))

	r.log.WithFields(logrus.Fields{
		"function": "onAccept",
		"link_id":  id,
		"peer":     c.RemoteAddr().String(),
		"downlink": remote.String(),
		"active":   r.registry.Active(),
	}).Info("Peer joined")

	go r.dialDownlink(ctx, id, local, remote)
}

func (r *Relay) dialDownlink(ctx context.Context, id link.ID, local, remote netip.AddrPort) {
	c, err := transport.Dial(ctx, local, remote, r.opts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if transport.IsBindError(err) {
			r.abort(fmt.Errorf("bind downlink %s: %w", local, err))
			return
		}
		r.log.WithFields(logrus.Fields{
			"function": "dialDownlink",
			"link_id":  id,
			"remote":   remote.String(),
			"error":    err.Error(),
		}).Warn("Downlink connect failed, frames stay buffered")
		return
	}

	if !r.loop.Post(func() { r.onDownlinkConnected(id, c) }) {
		_ = c.Close()
	}
}

// onDownlinkConnected runs on the loop.
func (r *Relay) onDownlinkConnected(id link.ID, c *transport.Conn) {
	l, ok := r.registry.Get(id)
	if !ok {
		_ = c.Close()
		return
	}
	l.Downlink = c
	r.conns[id].downlink = c

	c.Start(transport.Handlers{
		OnSendReady: func() {
			r.loop.Post(func() { r.forwarder.Drain(id) })
		},
		OnClose: func(err error) {
			r.loop.Post(func() { r.onDownlinkClosed(id, c, err) })
		},
	})

	r.log.WithFields(logrus.Fields{
		"function": "onDownlinkConnected",
		"link_id":  id,
		"local":    c.LocalAddr().String(),
		"remote":   c.RemoteAddr().String(),
		"queued":   l.Queue.Len(),
	}).Info("Downlink connected")

	r.forwarder.Drain(id)
}

// onDownlinkClosed runs on the loop.
func (r *Relay) onDownlinkClosed(id link.ID, c *transport.Conn, err error) {
	l, ok := r.registry.Get(id)
	if !ok || l.Downlink != transport.Sender(c) {
		return
	}
	l.Downlink = nil
	if p := r.conns[id]; p != nil {
		p.downlink = nil
	}

	fields := logrus.Fields{"function": "onDownlinkClosed", "link_id": id}
	if err != nil {
		fields["error"] = err.Error()
	}
	r.log.WithFields(fields).Warn("Downlink closed")
}

// onUplinkClosed runs on the loop.
func (r *Relay) onUplinkClosed(id link.ID, c *transport.Conn, err error) {
	p, ok := r.conns[id]
	if !ok || p.uplink != c {
		return
	}
	r.removeLink(id, err)
}

// removeLink evicts every trace of a departed peer. It runs on the loop.
func (r *Relay) removeLink(id link.ID, cause error) {
	l, ok := r.registry.Get(id)
	if !ok {
		return
	}
	released := r.session.Release(l.Limiter)
	if released {
		r.metrics.RecordTransition(ratelimit.StateNatural.String())
	}

	discarded := l.Queue.Len()
	if _, err := r.registry.Remove(id); err != nil {
		return
	}
	r.forwarder.Forget(id)

	if p := r.conns[id]; p != nil {
		_ = p.uplink.Close()
		if p.downlink != nil {
			_ = p.downlink.Close()
		}
		delete(r.conns, id)
	}

	r.metrics.RecordLinkEvent("removed")
	r.metrics.UpdateLinkCounts(r.registry.Active(), r.session.Degraded())

	fields := logrus.Fields{
		"function":  "removeLink",
		"link_id":   id,
		"peer":      l.Addr.String(),
		"released":  released,
		"discarded": discarded,
		"active":    r.registry.Active(),
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	r.log.WithFields(fields).Info("Peer left")
}

// teardown runs after the loop has exited, so it owns the loop state.
func (r *Relay) teardown() {
	r.sampler.Stop()
	r.loop.Wait()

	for id, p := range r.conns {
		_ = p.uplink.Close()
		if p.downlink != nil {
			_ = p.downlink.Close()
		}
		delete(r.conns, id)
	}
	r.registry.Each(func(l *link.Link) {
		l.Queue.Reset()
		r.metrics.RecordQueueDepth(l.ID, 0)
	})
}
