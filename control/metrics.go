// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics on a private prometheus registry. A nil *Metrics is
// valid and records nothing.

package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hiolink"

// Metrics groups all collectors exported by the library.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Gauge
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	bytesIn        prometheus.Counter
	bytesOut       prometheus.Counter
	heartbeats     *prometheus.CounterVec
	registered     *prometheus.GaugeVec
	events         *prometheus.CounterVec
	steals         prometheus.Counter
	cbFailures     prometheus.Counter
	jobsRun        prometheus.Counter
	jobsFailed     prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open connectors.",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "Frames fully written, by packet type.",
		}, []string{"type"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Frames fully assembled, by packet type.",
		}, []string{"type"}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_in_total",
			Help: "Bytes read from channels.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_out_total",
			Help: "Bytes written to channels.",
		}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "heartbeats_total",
			Help: "Heartbeat frames by direction.",
		}, []string{"direction"}),
		registered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "provider", Name: "registered_channels",
			Help: "Channels registered per selector.",
		}, []string{"selector"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provider", Name: "events_total",
			Help: "Readiness events dispatched, by interest.",
		}, []string{"interest"}),
		steals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provider", Name: "steals_total",
			Help: "Readiness tasks migrated between selector workers.",
		}),
		cbFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provider", Name: "callback_failures_total",
			Help: "Readiness callbacks that returned an error or panicked.",
		}),
		jobsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "jobs_run_total",
			Help: "Scheduled job executions.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "jobs_failed_total",
			Help: "Scheduled job executions that panicked.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.connections, m.framesSent, m.framesReceived, m.bytesIn, m.bytesOut,
		m.heartbeats, m.registered, m.events, m.steals, m.cbFailures,
		m.jobsRun, m.jobsFailed,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) FrameSent(kind string) {
	if m != nil {
		m.framesSent.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) FrameReceived(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) BytesIn(n int) {
	if m != nil && n > 0 {
		m.bytesIn.Add(float64(n))
	}
}

func (m *Metrics) BytesOut(n int) {
	if m != nil && n > 0 {
		m.bytesOut.Add(float64(n))
	}
}

// Heartbeat counts a heartbeat frame; direction is "in" or "out".
func (m *Metrics) Heartbeat(direction string) {
	if m != nil {
		m.heartbeats.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) SetRegistered(selector string, n int) {
	if m != nil {
		m.registered.WithLabelValues(selector).Set(float64(n))
	}
}

func (m *Metrics) ReadinessEvent(interest string) {
	if m != nil {
		m.events.WithLabelValues(interest).Inc()
	}
}

func (m *Metrics) Steal(n int) {
	if m != nil {
		m.steals.Add(float64(n))
	}
}

func (m *Metrics) CallbackFailure() {
	if m != nil {
		m.cbFailures.Inc()
	}
}

func (m *Metrics) JobRun(failed bool) {
	if m == nil {
		return
	}
	m.jobsRun.Inc()
	if failed {
		m.jobsFailed.Inc()
	}
}

// ServeMetrics exposes /metrics on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string, m *Metrics) error {
	if m == nil {
		return errors.New("metrics disabled")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
