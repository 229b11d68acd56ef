package deltalog

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/craft-world/internal/observability"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
)

var (
	appendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "craft",
		Subsystem: "deltalog",
		Name:      "append_duration_seconds",
		Help:      "Время надёжной записи пакета правок.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"driver"})
	appendedEdits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "deltalog",
		Name:      "edits_appended_total",
		Help:      "Правок записано в журнал.",
	}, []string{"driver"})
	appendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "deltalog",
		Name:      "append_errors_total",
		Help:      "Пакетов, отклонённых журналом.",
	}, []string{"driver"})
	loadedEdits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "deltalog",
		Name:      "edits_replayed_total",
		Help:      "Правок прочитано для переигрывания чанков.",
	}, []string{"driver"})
)

func init() {
	observability.Register(appendDuration, appendedEdits, appendErrors, loadedEdits)
}

// instrumented оборачивает Log метриками Prometheus
type instrumented struct {
	Log
	driver string
}

// Instrument добавляет к журналу метрики с меткой driver
func Instrument(log Log, driver string) Log {
	return &instrumented{Log: log, driver: driver}
}

func (i *instrumented) Append(ctx context.Context, edits []world.Edit) error {
	start := time.Now()
	err := i.Log.Append(ctx, edits)
	appendDuration.WithLabelValues(i.driver).Observe(time.Since(start).Seconds())
	if err != nil {
		appendErrors.WithLabelValues(i.driver).Inc()
		return err
	}
	appendedEdits.WithLabelValues(i.driver).Add(float64(len(edits)))
	return nil
}

func (i *instrumented) LoadEdits(ctx context.Context, cc vec.ChunkCoord) ([]world.Edit, error) {
	edits, err := i.Log.LoadEdits(ctx, cc)
	if err == nil {
		loadedEdits.WithLabelValues(i.driver).Add(float64(len(edits)))
	}
	return edits, err
}
