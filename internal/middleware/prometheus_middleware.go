package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/craft-world/internal/observability"
)

// Метрики:
// * craft_http_request_duration_seconds{method,path,status}, histogram
// * craft_http_requests_inflight, gauge
// * craft_http_request_errors_total{method,path,status}, counter (4xx/5xx)
var (
	reqDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "craft",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Длительность HTTP-запросов.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "path", "status"})
	reqInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "craft",
		Subsystem: "http",
		Name:      "requests_inflight",
		Help:      "Текущее количество обрабатываемых HTTP-запросов.",
	})
	reqErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "craft",
		Subsystem: "http",
		Name:      "request_errors_total",
		Help:      "Запросов, завершившихся ошибкой (4xx/5xx).",
	}, []string{"method", "path", "status"})
)

func init() {
	observability.Register(reqDuration, reqInflight, reqErrors)
}

// Prometheus возвращает gin.HandlerFunc, которую нужно добавить через router.Use()
func Prometheus() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqInflight.Inc()
		c.Next()
		reqInflight.Dec()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			// не-матченные маршруты сводятся в одну метку
			path = "unmatched"
		}
		method := c.Request.Method

		reqDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		if c.Writer.Status() >= 400 {
			reqErrors.WithLabelValues(method, path, status).Inc()
		}
	}
}

// RegisterMetricsEndpoint добавляет GET /metrics в указанный router
func RegisterMetricsEndpoint(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
