package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/craft-world/internal/observability"
)

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "dump_cache",
		Name:      "hits_total",
		Help:      "Попаданий в кеш дампов.",
	}, []string{"tier"})
	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "dump_cache",
		Name:      "misses_total",
		Help:      "Промахов кеша дампов.",
	}, []string{"tier"})
	cacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "dump_cache",
		Name:      "errors_total",
		Help:      "Ошибок хранилища кеша.",
	}, []string{"tier"})
	cacheLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "craft",
		Subsystem: "dump_cache",
		Name:      "get_duration_seconds",
		Help:      "Задержка чтения из удалённого уровня.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tier"})
)

func init() {
	observability.Register(cacheHits, cacheMisses, cacheErrors, cacheLatency)
}
