package observability

import (
	"github.com/annel0/craft-world/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Register регистрирует коллекторы в глобальном регистре Prometheus,
// игнорируя повторную регистрацию того же коллектора.
func Register(collectors ...prometheus.Collector) {
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logging.Warn("Не удалось зарегистрировать метрику: %v", err)
			}
		}
	}
}
