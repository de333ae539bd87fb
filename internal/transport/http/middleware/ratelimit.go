package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/pribylovaa/exam-auth/internal/metrics"
	"github.com/pribylovaa/exam-auth/internal/pkg/log"
	"github.com/pribylovaa/exam-auth/internal/ratelimit"
	"github.com/pribylovaa/exam-auth/internal/transport/http/apierrors"
)

// RateLimit ограничивает запросы одного клиента (по IP) в группе scope.
// Ошибка лимитера запрос не блокирует: лучше пропустить, чем уронить вход.
func RateLimit(scope string, l ratelimit.Limiter, m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), scope+":"+clientIP(r))
			if err != nil {
				log.From(r.Context()).Warn("rate_limit_unavailable",
					slog.String("scope", scope),
					slog.String("err", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				m.RateLimited(scope)
				log.From(r.Context()).Info("rate_limited",
					slog.String("scope", scope),
					slog.String("ip", clientIP(r)),
				)
				apierrors.WriteError(w, r, &apierrors.RateLimitError{RetryAfter: res.RetryAfter})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP - адрес клиента. За доверенным прокси RemoteAddr уже переписан RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
