package tcpstack

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus instrumentation for the stack's senders,
// connections, and network interfaces. A nil *Metrics is valid everywhere
// it's accepted: every method is a no-op on a nil receiver, so instrumenting
// the stack is strictly opt-in and never affects correctness.
type Metrics struct {
	segmentsSent          prometheus.Counter
	segmentsRetransmitted prometheus.Counter
	bytesInFlight         prometheus.Gauge
	arpRequestsSent       prometheus.Counter
	arpCacheSize          prometheus.Gauge
}

// NewMetrics registers the stack's collectors on reg and returns a Metrics
// instance bound to them.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		segmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpstack_segments_sent_total",
			Help: "TCP segments (SYN, data, FIN) sent by the sender for the first time; retransmissions are counted separately.",
		}),
		segmentsRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpstack_segments_retransmitted_total",
			Help: "TCP segments retransmitted by the sender's retransmission timer.",
		}),
		bytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcpstack_bytes_in_flight",
			Help: "Sequence-space bytes currently outstanding and unacknowledged.",
		}),
		arpRequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpstack_arp_requests_sent_total",
			Help: "ARP request broadcasts sent by the network interface.",
		}),
		arpCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcpstack_arp_cache_entries",
			Help: "Live entries in the network interface's ARP cache.",
		}),
	}
	reg.MustRegister(
		m.segmentsSent,
		m.segmentsRetransmitted,
		m.bytesInFlight,
		m.arpRequestsSent,
		m.arpCacheSize,
	)
	return m
}

func (m *Metrics) incSegmentsSent() {
	if m == nil {
		return
	}
	m.segmentsSent.Inc()
}

func (m *Metrics) incSegmentsRetransmitted() {
	if m == nil {
		return
	}
	m.segmentsRetransmitted.Inc()
}

func (m *Metrics) setBytesInFlight(n uint64) {
	if m == nil {
		return
	}
	m.bytesInFlight.Set(float64(n))
}

func (m *Metrics) incARPRequestsSent() {
	if m == nil {
		return
	}
	m.arpRequestsSent.Inc()
}

func (m *Metrics) setARPCacheSize(n int) {
	if m == nil {
		return
	}
	m.arpCacheSize.Set(float64(n))
}
