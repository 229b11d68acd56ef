package network

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/craft-world/internal/observability"
)

var (
	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "connections_active",
		Help:      "Клиентов, прошедших рукопожатие.",
	})
	linesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "lines_received_total",
		Help:      "Принятых строк протокола по тегу.",
	}, []string{"tag"})
	protocolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "protocol_errors_total",
		Help:      "Соединений, разорванных из-за ошибки протокола.",
	})
	slowClients = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "slow_client_disconnects_total",
		Help:      "Соединений, разорванных из-за переполненной очереди отправки.",
	})
	positionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "positions_dropped_total",
		Help:      "Позиций игроков, не поместившихся в очередь отправки.",
	})
	desyncIgnored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "desync_ignored_total",
		Help:      "Запросов вне подписки клиента.",
	}, []string{"kind"})
	dumpsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "dumps_sent_total",
		Help:      "Отправленных дампов чанков.",
	}, []string{"source"})
	dumpsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "dumps_skipped_total",
		Help:      "Запросов чанка, у клиента которого уже актуальное состояние.",
	})
	editsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "edits_committed_total",
		Help:      "Правок, записанных и разосланных.",
	})
	editsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "edits_rejected_total",
		Help:      "Отклонённых правок по причине.",
	}, []string{"reason"})
	commitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "commit_duration_seconds",
		Help:      "Время записи и применения пакета правок.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "commit_batch_size",
		Help:      "Правок в одном пакете записи.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})
	positionStoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "network",
		Name:      "position_store_errors_total",
		Help:      "Ошибок хранилища положений игроков по операции.",
	}, []string{"op"})
)

func init() {
	observability.Register(
		connectionsActive, linesReceived, protocolErrors, slowClients, positionsDropped,
		desyncIgnored, dumpsSent, dumpsSkipped, editsCommitted, editsRejected,
		commitDuration, batchSize, positionStoreErrors,
	)
}
