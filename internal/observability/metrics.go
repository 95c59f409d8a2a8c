package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flightwatch"

// Metrics stores Prometheus collectors used by the API, the monitor and the provider client.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	providerPollsTotal    *prometheus.CounterVec
	providerPollDuration  prometheus.Histogram
	limiterWaitDuration   prometheus.Histogram
	notificationsTotal    *prometheus.CounterVec
	remindersSentTotal    *prometheus.CounterVec
	changesDetectedTotal  *prometheus.CounterVec
	monitoredFlights      *prometheus.GaugeVec
	lockContentionTotal   prometheus.Counter
	manualChecksTotal     *prometheus.CounterVec
	flightEventsTotal     *prometheus.CounterVec
	ledgerRowsPurgedTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		providerPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_polls_total",
				Help:      "Total number of flight status queries by outcome.",
			},
			[]string{"outcome"},
		),
		providerPollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_poll_duration_seconds",
				Help:      "Flight status provider round trip in seconds, excluding limiter wait.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		limiterWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_limiter_wait_seconds",
				Help:      "Time spent queued behind the provider call spacing gate.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Per-recipient notification outcomes by audience.",
			},
			[]string{"audience", "outcome"},
		),
		remindersSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_sent_total",
				Help:      "Reminders recorded as delivered by kind.",
			},
			[]string{"kind"},
		),
		changesDetectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "changes_detected_total",
				Help:      "Reportable status changes detected by kind.",
			},
			[]string{"kind"},
		),
		monitoredFlights: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "monitored_flights",
				Help:      "Flights currently tracked by the monitor grouped by phase.",
			},
			[]string{"phase"},
		),
		lockContentionTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flight_lock_contention_total",
				Help:      "Evaluations skipped because another trigger held the flight.",
			},
		),
		manualChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manual_checks_total",
				Help:      "Manual check requests by result.",
			},
			[]string{"result"},
		),
		flightEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flight_events_total",
				Help:      "Flight lifecycle events consumed by type and result.",
			},
			[]string{"type", "result"},
		),
		ledgerRowsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_rows_purged_total",
				Help:      "Monitoring ledger rows removed by the retention janitor.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.providerPollsTotal,
		m.providerPollDuration,
		m.limiterWaitDuration,
		m.notificationsTotal,
		m.remindersSentTotal,
		m.changesDetectedTotal,
		m.monitoredFlights,
		m.lockContentionTotal,
		m.manualChecksTotal,
		m.flightEventsTotal,
		m.ledgerRowsPurgedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveProviderPoll(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerPollsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.providerPollDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) ObserveLimiterWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.limiterWaitDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncNotification(audience string, outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(normalizeLabel(audience), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncReminderSent(kind string) {
	if m == nil {
		return
	}
	m.remindersSentTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncChangeDetected(kind string) {
	if m == nil {
		return
	}
	m.changesDetectedTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) SetMonitoredFlights(phase string, count int) {
	if m == nil {
		return
	}
	m.monitoredFlights.WithLabelValues(normalizeLabel(phase)).Set(float64(count))
}

func (m *Metrics) IncLockContention() {
	if m == nil {
		return
	}
	m.lockContentionTotal.Inc()
}

func (m *Metrics) IncManualCheck(result string) {
	if m == nil {
		return
	}
	m.manualChecksTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncFlightEvent(eventType string, result string) {
	if m == nil {
		return
	}
	m.flightEventsTotal.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *Metrics) AddLedgerRowsPurged(rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.ledgerRowsPurgedTotal.Add(float64(rows))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func nonNegativeSeconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
