package tcpstack

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsNilIsNoOp(t *testing.T) {
	var m *Metrics
	m.incSegmentsSent()
	m.incSegmentsRetransmitted()
	m.setBytesInFlight(42)
	m.incARPRequestsSent()
	m.setARPCacheSize(3)
}

func TestMetricsRecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.incSegmentsSent()
	m.incSegmentsSent()
	m.setBytesInFlight(128)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var sent *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "tcpstack_segments_sent_total" {
			sent = f
		}
	}
	if sent == nil {
		t.Fatalf("tcpstack_segments_sent_total not registered")
	}
	if got := sent.Metric[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("segments sent counter: got %v, want 2", got)
	}
}
