package confrelay

import (
	"context"
	"net/netip"
	"time"

	"github.com/opd-ai/confrelay/eventloop"
	"github.com/opd-ai/confrelay/link"
	"github.com/opd-ai/confrelay/metrics"
)

// LinkStats describes one active link.
type LinkStats struct {
	ID          link.ID
	Addr        netip.Addr
	State       string
	Sampled     uint32
	Capacity    uint32
	Target      uint32
	Feedback    string
	Queued      int
	QueuedBytes int
	Connected   bool
}

// Stats is a point-in-time view of the conference.
type Stats struct {
	Taken         time.Time
	Sampling      bool
	ActiveLinks   int
	DegradedLinks int
	Allocated     int
	Pairs         int
	Links         []LinkStats
}

// Stats collects a snapshot on the loop goroutine. It fails with
// eventloop.ErrStopped when the relay is not running.
func (r *Relay) Stats(ctx context.Context) (Stats, error) {
	result := make(chan Stats, 1)
	posted := r.loop.Post(func() {
		s := Stats{
			Taken:         r.loop.Now(),
			Sampling:      r.sampler.Running(),
			ActiveLinks:   r.registry.Active(),
			DegradedLinks: r.session.Degraded(),
			Allocated:     r.registry.Allocated(),
			Pairs:         r.forwarder.Admission().Len(),
		}
		r.registry.Each(func(l *link.Link) {
			s.Links = append(s.Links, LinkStats{
				ID:          l.ID,
				Addr:        l.Addr,
				State:       l.Limiter.State().String(),
				Sampled:     l.Limiter.Sampled(),
				Capacity:    l.Limiter.Capacity(),
				Target:      l.Limiter.TargetBudget(),
				Feedback:    l.Limiter.Feedback().String(),
				Queued:      l.Queue.Len(),
				QueuedBytes: l.Queue.Bytes(),
				Connected:   l.Downlink != nil,
			})
		})
		result <- s
	})
	if !posted {
		return Stats{}, eventloop.ErrStopped
	}

	select {
	case s := <-result:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// health backs the metrics server's health endpoint.
func (r *Relay) health() metrics.HealthStatus {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := r.Stats(ctx)
	if err != nil {
		return metrics.HealthStatus{Status: "stopped", NodeID: r.cfg.NodeID}
	}
	return metrics.HealthStatus{
		Status:        "healthy",
		NodeID:        r.cfg.NodeID,
		ActiveLinks:   s.ActiveLinks,
		DegradedLinks: s.DegradedLinks,
	}
}
