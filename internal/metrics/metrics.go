// metrics содержит прометеевские коллекторы сервиса.
// Все методы безопасны для nil-получателя: без метрик сервис работает так же.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exam_auth"

// Metrics - набор коллекторов сервиса.
type Metrics struct {
	logins           *prometheus.CounterVec
	sessionsReplaced prometheus.Counter
	sessionsRejected *prometheus.CounterVec
	codesSent        *prometheus.CounterVec
	codesVerified    *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	janitorDeleted   prometheus.Counter
}

// New регистрирует коллекторы в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		sessionsReplaced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_superseded_total",
			Help:      "Sessions deleted because the same account logged in again.",
		}),
		sessionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Session checks that failed, by reason.",
		}, []string{"reason"}),
		codesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_sent_total",
			Help:      "One-time codes issued, by purpose and delivery result.",
		}, []string{"purpose", "delivery"}),
		codesVerified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_verified_total",
			Help:      "One-time code verification outcomes.",
		}, []string{"purpose", "result"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"method", "route"}),
		janitorDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_sessions_deleted_total",
			Help:      "Expired sessions removed by the background janitor.",
		}),
	}
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionsSuperseded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsReplaced.Add(float64(n))
}

func (m *Metrics) SessionRejected(reason string) {
	if m == nil {
		return
	}
	m.sessionsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) CodeSent(purpose string, delivered bool) {
	if m == nil {
		return
	}
	delivery := "ok"
	if !delivered {
		delivery = "failed"
	}
	m.codesSent.WithLabelValues(purpose, delivery).Inc()
}

func (m *Metrics) CodeVerified(purpose, result string) {
	if m == nil {
		return
	}
	m.codesVerified.WithLabelValues(purpose, result).Inc()
}

func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

// HTTPRequest учитывает завершённый HTTP-запрос.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) JanitorDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.janitorDeleted.Add(float64(n))
}
