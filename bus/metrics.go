package bus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce     sync.Once
	published       *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
)

func init() {
	metricsOnce.Do(func() {
		published = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesaops",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Events appended to the realtime stream segmented by type.",
		}, []string{"type"})
		publishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesaops",
			Subsystem: "bus",
			Name:      "publish_failures_total",
			Help:      "Post-commit emissions that failed and were dropped to the log.",
		}, []string{"type"})
		prometheus.MustRegister(published, publishFailures)
	})
}
