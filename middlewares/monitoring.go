package middlewares

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_service_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shop_service_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_service_operations_total",
			Help: "Total number of product and order operations",
		},
		[]string{"entity", "operation", "status"},
	)

	stockDecrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_service_stock_decrements_total",
			Help: "Units removed from product stock by order status updates",
		},
		[]string{"product"},
	)

	lowStock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shop_service_product_stock_low",
			Help: "Current stock of products at or below the low stock threshold",
		},
		[]string{"product"},
	)
)

// PrometheusMiddleware records request counts and latencies per route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
	}
}

// RecordOperation counts one product or order operation by outcome.
func RecordOperation(entity, operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	operationsTotal.WithLabelValues(entity, operation, status).Inc()
}

func RecordStockDecrement(productID string, qty int) {
	stockDecrements.WithLabelValues(productID).Add(float64(qty))
}

// SetLowStock exposes the stock of a product that fell to or below the
// threshold, and drops the series once it is replenished.
func SetLowStock(productID string, stock int, low bool) {
	if !low {
		lowStock.DeleteLabelValues(productID)
		return
	}
	lowStock.WithLabelValues(productID).Set(float64(stock))
}
