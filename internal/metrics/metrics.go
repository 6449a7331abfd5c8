package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	leadsAssigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_assigned_total",
			Help: "Total number of leads assigned to telecallers",
		},
		[]string{"mode"},
	)

	leadsUnassigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_unassigned_total",
			Help: "Total number of leads returned to the unassigned pool",
		},
		[]string{"mode"},
	)

	assignmentErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_errors_total",
			Help: "Total number of failed assignment operations by error code",
		},
		[]string{"code"},
	)

	leadsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_imported_total",
			Help: "Rows processed by bulk lead upload",
		},
		[]string{"result"},
	)
)

func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordAssigned(mode string, n int) {
	if n > 0 {
		leadsAssigned.WithLabelValues(mode).Add(float64(n))
	}
}

func RecordUnassigned(mode string, n int) {
	if n > 0 {
		leadsUnassigned.WithLabelValues(mode).Add(float64(n))
	}
}

func RecordAssignmentError(code string) {
	assignmentErrors.WithLabelValues(code).Inc()
}

func RecordImport(created, skipped int) {
	leadsImported.WithLabelValues("created").Add(float64(created))
	leadsImported.WithLabelValues("skipped").Add(float64(skipped))
}
