// Package metrics exposes the relay's Prometheus collectors and the HTTP
// server that serves them together with a JSON health endpoint.
//
// Every RelayMetrics method is safe to call on a nil receiver, so
// components can take an optional *RelayMetrics without guarding each call.
package metrics

import (
	"strconv"

	"github.com/opd-ai/confrelay/link"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "confrelay"

// Drop reasons used as label values.
const (
	ReasonBudget    = "budget"
	ReasonStale     = "stale"
	ReasonMalformed = "malformed"
	ReasonQueueFull = "queue_full"
)

// RelayMetrics is the collector set of one relay.
type RelayMetrics struct {
	ActiveLinks   prometheus.Gauge
	DegradedLinks prometheus.Gauge
	LinkEvents    *prometheus.CounterVec

	SampledBudget *prometheus.GaugeVec
	TargetBudget  *prometheus.GaugeVec
	QueueDepth    *prometheus.GaugeVec

	PacketsReceived  *prometheus.CounterVec
	PacketsForwarded *prometheus.CounterVec
	BytesForwarded   *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec

	Transitions *prometheus.CounterVec
}

// NewRelayMetrics creates the collectors and registers them on registry.
func NewRelayMetrics(registry prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ActiveLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_links",
			Help:      "Number of peers currently in the conference",
		}),

		DegradedLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded_links",
			Help:      "Number of links in the LIMIT rate-limit state",
		}),

		LinkEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_events_total",
			Help:      "Link lifecycle events",
		}, []string{"event"}),

		SampledBudget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_sampled_budget_bytes",
			Help:      "Congestion-sampled per-frame budget of a link",
		}, []string{"link"}),

		TargetBudget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_target_budget_bytes",
			Help:      "Effective per-frame forwarding budget of a link",
		}, []string{"link"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_send_queue_frames",
			Help:      "Frames waiting in a link's send buffer",
		}, []string{"link"}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Packets received on uplinks",
		}, []string{"link"}),

		PacketsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_forwarded_total",
			Help:      "Packet copies admitted for a destination",
		}, []string{"link"}),

		BytesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_forwarded_total",
			Help:      "Payload bytes admitted for a destination",
		}, []string{"link"}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Packet copies dropped, by reason",
		}, []string{"reason"}),

		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_transitions_total",
			Help:      "Rate-limit state transitions, by target state",
		}, []string{"to"}),
	}

	registry.MustRegister(
		m.ActiveLinks,
		m.DegradedLinks,
		m.LinkEvents,
		m.SampledBudget,
		m.TargetBudget,
		m.QueueDepth,
		m.PacketsReceived,
		m.PacketsForwarded,
		m.BytesForwarded,
		m.PacketsDropped,
		m.Transitions,
	)

	return m
}

func label(id link.ID) string {
	return strconv.Itoa(int(id))
}

// RecordLinkEvent counts a lifecycle event (accepted, rejected, removed).
func (m *RelayMetrics) RecordLinkEvent(event string) {
	if m == nil {
		return
	}
	m.LinkEvents.WithLabelValues(event).Inc()
}

// UpdateLinkCounts sets the active and degraded link gauges.
func (m *RelayMetrics) UpdateLinkCounts(active, degraded int) {
	if m == nil {
		return
	}
	m.ActiveLinks.Set(float64(active))
	m.DegradedLinks.Set(float64(degraded))
}

// ObserveSample records a congestion sample for a link.
func (m *RelayMetrics) ObserveSample(id link.ID, sampled, target uint32) {
	if m == nil {
		return
	}
	m.SampledBudget.WithLabelValues(label(id)).Set(float64(sampled))
	m.TargetBudget.WithLabelValues(label(id)).Set(float64(target))
}

// RecordTargetBudget records the effective budget of a link.
func (m *RelayMetrics) RecordTargetBudget(id link.ID, target uint32) {
	if m == nil {
		return
	}
	m.TargetBudget.WithLabelValues(label(id)).Set(float64(target))
}

// RecordQueueDepth records the send buffer length of a link.
func (m *RelayMetrics) RecordQueueDepth(id link.ID, frames int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(label(id)).Set(float64(frames))
}

// RecordReceived counts a packet received on src's uplink.
func (m *RelayMetrics) RecordReceived(src link.ID) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(label(src)).Inc()
}

// RecordForwarded counts an admitted copy for dst.
func (m *RelayMetrics) RecordForwarded(dst link.ID, bytes uint32) {
	if m == nil {
		return
	}
	m.PacketsForwarded.WithLabelValues(label(dst)).Inc()
	m.BytesForwarded.WithLabelValues(label(dst)).Add(float64(bytes))
}

// RecordDropped counts a dropped copy.
func (m *RelayMetrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordTransition counts a rate-limit transition into state to.
func (m *RelayMetrics) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

// ForgetLink deletes the per-link series of a departed link.
func (m *RelayMetrics) ForgetLink(id link.ID) {
	if m == nil {
		return
	}
	l := label(id)
	m.SampledBudget.DeleteLabelValues(l)
	m.TargetBudget.DeleteLabelValues(l)
	m.QueueDepth.DeleteLabelValues(l)
	m.PacketsReceived.DeleteLabelValues(l)
	m.PacketsForwarded.DeleteLabelValues(l)
	m.BytesForwarded.DeleteLabelValues(l)
}
