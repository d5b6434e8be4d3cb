// Package rdtmetrics exposes Prometheus instrumentation for the rdt-go
// transport (C9 in SPEC_FULL.md): packets sent/dropped, retransmits, and
// the SR congestion window, so a running rdt-server can be scraped the
// way any other Go service in the retrieval pack is.
package rdtmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder wraps the package's Prometheus collectors behind small,
// allocation-free methods so the engine's hot path doesn't touch the
// client library's label-matching machinery more than once per call.
type Recorder struct {
	packetsSent    prometheus.Counter
	packetsDropped *prometheus.CounterVec
	retransmits    prometheus.Counter
	window         prometheus.Gauge
	inflight       prometheus.Gauge

	mu        sync.Mutex
	lastSent  uint64
	lastDrops uint64
}

var (
	defaultOnce sync.Once
	defaultRec  *Recorder
)

// Default returns the process-wide Recorder, registering its collectors
// with prometheus.DefaultRegisterer on first use.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRec = newRecorder(prometheus.DefaultRegisterer)
	})
	return defaultRec
}

func newRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdt_packets_sent_total",
			Help: "Packets written to the datagram socket (post loss-injector).",
		}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdt_packets_dropped_total",
			Help: "Packets dropped before reaching the wire, by reason.",
		}, []string{"reason"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdt_retransmits_total",
			Help: "Retransmitted packets, GBN batch or SR per-packet.",
		}),
		window: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdt_window_size",
			Help: "Current SR congestion window, updated whenever it changes.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdt_inflight_size",
			Help: "Number of unacknowledged sequence numbers currently in flight.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.packetsSent, r.packetsDropped, r.retransmits, r.window, r.inflight)
	}
	return r
}

// ObserveSend updates the sent/dropped-by-loss counters from the loss
// injector's monotonic totals.
func (r *Recorder) ObserveSend(totalSent, totalDropped uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if totalSent > r.lastSent {
		r.packetsSent.Add(float64(totalSent - r.lastSent))
		r.lastSent = totalSent
	}
	if totalDropped > r.lastDrops {
		r.packetsDropped.WithLabelValues("loss_injector").Add(float64(totalDropped - r.lastDrops))
		r.lastDrops = totalDropped
	}
}

// ObserveRetransmit records one retransmitted packet.
func (r *Recorder) ObserveRetransmit() { r.retransmits.Inc() }

// ObserveMalformed records one malformed-and-discarded datagram.
func (r *Recorder) ObserveMalformed() { r.packetsDropped.WithLabelValues("malformed").Inc() }

// SetWindow reports the current congestion/fixed window size.
func (r *Recorder) SetWindow(n int) { r.window.Set(float64(n)) }

// SetInflight reports the current number of unacknowledged sequences.
func (r *Recorder) SetInflight(n int) { r.inflight.Set(float64(n)) }
