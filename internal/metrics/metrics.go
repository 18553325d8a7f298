// Package metrics owns the router's prometheus registry: a delivery counter per
// (input queue, output queue) pair and an end-to-end routing latency summary per input queue.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"queue-router/internal/common/logging"
)

const (
	promNamespace = "queue_router"

	// NameFilterParam is the repeatable query parameter selecting metric families
	NameFilterParam = "name[]"
)

// Options configures the metrics backend
type Options struct {
	// Registry to register with. A fresh registry is created when nil.
	Registry *prometheus.Registry

	// EnableRuntimeMetrics registers the go and process collectors
	EnableRuntimeMetrics bool
}

// Metrics is safe for concurrent use by all route workers
type Metrics struct {
	registry      *prometheus.Registry
	messagesM     *prometheus.CounterVec
	routeSummaryM *prometheus.SummaryVec
}

// New creates the router metrics and registers them
func New(opts Options) *Metrics {
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "message_counter",
		Help: "Messages delivered from an input queue to an output queue.",
	}, []string{"input_queue", "output_queue"})

	routeSummary := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  promNamespace,
		Name:       "full_route_summary",
		Help:       "Seconds spent parsing, matching, delivering and committing one message.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"input_queue"})

	m := &Metrics{
		registry:      opts.Registry,
		messagesM:     messages,
		routeSummaryM: routeSummary,
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	m.registry.MustRegister(m.messagesM)
	m.registry.MustRegister(m.routeSummaryM)

	if opts.EnableRuntimeMetrics {
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m.registry.MustRegister(collectors.NewGoCollector())
	}
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncDelivered counts one committed delivery
func (m *Metrics) IncDelivered(inputQueue, outputQueue string) {
	m.messagesM.WithLabelValues(inputQueue, outputQueue).Inc()
}

// ObserveRoute records the routing latency of one message
func (m *Metrics) ObserveRoute(inputQueue string, d time.Duration) {
	m.routeSummaryM.WithLabelValues(inputQueue).Observe(d.Seconds())
}

// Handler serves the registry in the negotiated exposition format. Repeated
// name[] parameters restrict the output to those metric families.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		families, err := m.registry.Gather()
		if err != nil {
			logging.Warn("metrics gather reported errors", logging.Err(err))
		}

		families = filterFamilies(families, r.URL.Query()[NameFilterParam])

		format := expfmt.Negotiate(r.Header)
		w.Header().Set("Content-Type", string(format))

		encoder := expfmt.NewEncoder(w, format)
		for _, family := range families {
			if err := encoder.Encode(family); err != nil {
				logging.Error("failed to encode metric family", err, logging.String("family", family.GetName()))
				return
			}
		}
		if closer, ok := encoder.(expfmt.Closer); ok {
			if err := closer.Close(); err != nil {
				logging.Error("failed to close metrics encoder", err)
			}
		}
	})
}

func filterFamilies(families []*dto.MetricFamily, names []string) []*dto.MetricFamily {
	if len(names) == 0 {
		return families
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	filtered := families[:0]
	for _, family := range families {
		if wanted[family.GetName()] {
			filtered = append(filtered, family)
		}
	}
	return filtered
}
