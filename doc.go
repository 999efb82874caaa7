// Package confrelay implements a multi-party video conference relay.
//
// Every peer opens an uplink connection to the relay and sends its media as
// framed packets. The relay connects back to each peer's downlink port and
// forwards every packet to all other peers, truncating frames per
// destination so each peer receives no more than its current capacity.
//
// # Getting Started
//
//	cfg, err := config.Load("relay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	relay, err := confrelay.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	if err := relay.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Forwarding Pipeline
//
//   - [link]: registry of peers, dense link ids, per-link send buffers
//   - [congestion]: samples each uplink's congestion window or pacing rate
//     once per frame interval and turns it into a bytes-per-frame budget
//   - [ratelimit]: NATURAL/LIMIT state machine driven by the feedback factor
//     peers piggyback on their uplink packets
//   - [admission]: per (source, destination) frame budget enforcement
//   - [forwarder]: fan-out, enqueue and drain
//
// All of these run on a single [eventloop.Loop]. Transport goroutines only
// post events to it, so forwarding state needs no locks.
//
// # Peer Identity
//
// A peer is identified by its IP address. Downlinks are dialed from the
// local port downlink_port+id to the peer's peer_downlink_port. A second
// uplink from an address that is already in the conference is rejected.
//
// # Observability
//
// With metrics enabled the relay serves Prometheus metrics and a JSON
// health document. [Relay.Stats] returns the same information in-process.
package confrelay
