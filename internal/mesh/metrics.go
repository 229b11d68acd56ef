package mesh

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/craft-world/internal/observability"
)

var (
	buildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "craft",
		Subsystem: "mesh",
		Name:      "build_duration_seconds",
		Help:      "Время построения меша одного чанка.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
	builtQuads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "mesh",
		Name:      "quads_total",
		Help:      "Граней построено.",
	})
	discardedBuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "mesh",
		Name:      "discarded_builds_total",
		Help:      "Сборок, отброшенных из-за выгрузки чанка.",
	})
	pendingBuilds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "craft",
		Subsystem: "mesh",
		Name:      "pending_builds",
		Help:      "Чанков в очереди на перестройку.",
	})
)

func init() {
	observability.Register(buildDuration, builtQuads, discardedBuilds, pendingBuilds)
}
