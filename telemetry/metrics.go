package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/transport"
)

// OutcomeOK labels calls that completed without error.
const OutcomeOK = "ok"

// Metrics is a transport.Observer that records Prometheus metrics.
type Metrics struct {
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	pending  prometheus.Gauge
}

var _ transport.Observer = (*Metrics)(nil)

// NewMetrics creates the transport metrics and registers them with reg.
// A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ift",
				Subsystem: "transport",
				Name:      "messages_sent_total",
				Help:      "Messages posted to the remote context.",
			},
			[]string{"type", "action"},
		),
		received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ift",
				Subsystem: "transport",
				Name:      "messages_received_total",
				Help:      "Messages accepted from the remote context.",
			},
			[]string{"type", "action"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ift",
				Subsystem: "transport",
				Name:      "messages_dropped_total",
				Help:      "Inbound messages discarded, by reason.",
			},
			[]string{"reason"},
		),
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ift",
				Subsystem: "calls",
				Name:      "started_total",
				Help:      "Calls awaiting a callback.",
			},
			[]string{"type", "method"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ift",
				Subsystem: "calls",
				Name:      "finished_total",
				Help:      "Calls whose callback ran, by outcome.",
			},
			[]string{"type", "method", "outcome"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ift",
				Subsystem: "calls",
				Name:      "pending",
				Help:      "Calls awaiting a callback.",
			},
		),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, errors.Wrap(err, "register metrics")
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.sent, m.received, m.dropped, m.started, m.finished, m.pending}
}

// MessageSent counts an outbound message.
func (m *Metrics) MessageSent(msg *transport.Message) {
	m.sent.WithLabelValues(msg.Type, string(msg.Action)).Inc()
}

// MessageReceived counts an accepted inbound message.
func (m *Metrics) MessageReceived(msg *transport.Message) {
	m.received.WithLabelValues(msg.Type, string(msg.Action)).Inc()
}

// MessageDropped counts a discarded inbound message.
func (m *Metrics) MessageDropped(reason transport.DropReason, origin string, err error) {
	m.dropped.WithLabelValues(string(reason)).Inc()
}

// CallStarted counts a new pending call.
func (m *Metrics) CallStarted(typ, method string, id int) {
	m.started.WithLabelValues(typ, method).Inc()
	m.pending.Inc()
}

// CallFinished counts a resolved call.
func (m *Metrics) CallFinished(typ, method string, id int, err error) {
	m.finished.WithLabelValues(typ, method, Outcome(err)).Inc()
	m.pending.Dec()
}

// Outcome labels a call result: OutcomeOK, the error code, or "ERROR" for
// an error without one.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := errors.Code(err); code != "" {
		return code.String()
	}
	return "ERROR"
}
