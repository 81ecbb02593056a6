package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records coordinator activity as Prometheus metrics.
type Collector struct {
	operations    *prometheus.CounterVec
	fetchAttempts prometheus.Counter
	network       prometheus.Gauge
	signedIn      prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_client_operations_total",
			Help: "Coordinator operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		fetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "account_client_profile_fetch_attempts_total",
			Help: "Profile store reads issued by profile refresh, including retries.",
		}),
		network: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "account_client_network_available",
			Help: "1 when the network monitor reports the backend reachable.",
		}),
		signedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "account_client_signed_in",
			Help: "1 while a session is held.",
		}),
	}

	reg.MustRegister(c.operations, c.fetchAttempts, c.network, c.signedIn)
	return c
}

func (c *Collector) RecordOperation(operation, outcome string) {
	c.operations.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) RecordFetchAttempt() {
	c.fetchAttempts.Inc()
}

func (c *Collector) SetNetworkAvailable(available bool) {
	c.network.Set(boolToFloat(available))
}

func (c *Collector) SetSignedIn(signedIn bool) {
	c.signedIn.Set(boolToFloat(signedIn))
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
