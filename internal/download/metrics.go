package download

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's prometheus collectors.
type Metrics struct {
	Downloads *prometheus.CounterVec
	InFlight  prometheus.Gauge
	Bytes     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelf",
			Name:      "downloads_total",
			Help:      "Download attempts by result.",
		}, []string{"result"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shelf",
			Name:      "downloads_in_flight",
			Help:      "Transfers currently running.",
		}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shelf",
			Name:      "download_bytes_total",
			Help:      "Payload bytes received.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Downloads, m.InFlight, m.Bytes)
	}
	return m
}

func (m *Metrics) observe(err error) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(Result(err)).Inc()
}

func (m *Metrics) addBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Bytes.Add(float64(n))
}

func (m *Metrics) started() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) finished() {
	if m != nil {
		m.InFlight.Dec()
	}
}
