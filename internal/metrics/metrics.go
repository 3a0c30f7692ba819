package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kalshi_replay"

// Metrics holds every collector exported by the replay server and recorder.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	sessionsCreated     prometheus.Counter
	sessionsActive      prometheus.Gauge
	sessionsFinished    *prometheus.CounterVec
	connectionsAccepted prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	messagesSent        prometheus.Counter
	bytesSent           prometheus.Counter
	recordedMessages    *prometheus.CounterVec
	recorderInserts     prometheus.Counter
	recorderErrors      prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers all collectors with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg, reg)
}

// NewWith registers all collectors with reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Replay sessions created.",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Replay sessions not yet finished.",
		}),
		sessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Replay sessions finished, by result.",
		}, []string{"result"}),
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Client connections that joined a replay session.",
		}),
		connectionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Client connections rejected before joining a session, by reason.",
		}, []string{"reason"}),
		messagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Historical messages delivered to clients.",
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Payload bytes delivered to clients.",
		}),
		recordedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_messages_total",
			Help:      "Feed messages captured by the recorder, by channel.",
		}, []string{"channel"}),
		recorderInserts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_inserts_total",
			Help:      "Rows inserted into feed_messages.",
		}),
		recorderErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_errors_total",
			Help:      "Failed recorder batch inserts.",
		}),
		gatherer: g,
	}
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SessionCreated records a new replay session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

// SessionFinished records a session reaching its terminal state.
func (m *Metrics) SessionFinished(result string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsFinished.WithLabelValues(result).Inc()
}

// ConnectionAccepted records a client joining a session.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

// ConnectionRejected records a client turned away before joining a session.
func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

// MessageSent records one delivered message of n bytes.
func (m *Metrics) MessageSent(n int) {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
	m.bytesSent.Add(float64(n))
}

// MessageRecorded records one captured feed message.
func (m *Metrics) MessageRecorded(channel string) {
	if m == nil {
		return
	}
	m.recordedMessages.WithLabelValues(channel).Inc()
}

// RecorderFlushed records the outcome of one batch insert.
func (m *Metrics) RecorderFlushed(inserted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.recorderErrors.Inc()
		return
	}
	m.recorderInserts.Add(float64(inserted))
}
