package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/exam-auth/internal/pkg/log"
)

// Logging кладёт request-scoped логгер в контекст и пишет одну запись "http"
// на запрос. Уровень зависит от статуса: 5xx - error, 4xx - warn.
func Logging(l *slog.Logger) Middleware {
	if l == nil {
		l = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := l
			if rid := r.Header.Get(HeaderRequestID); rid != "" {
				reqLog = reqLog.With(slog.String("request_id", rid))
			}

			// Authenticate дополняет логгер user_id/session_id в дочернем контексте;
			// через holder итоговая запись тоже их получает.
			holder := &logHolder{l: reqLog}
			r = r.WithContext(log.Into(withHolder(r.Context(), holder), reqLog))

			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			status := sw.Status()
			holder.l.LogAttrs(r.Context(), levelFor(status), "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("dur", time.Since(start)),
				slog.Int("bytes", sw.count),
				slog.String("ip", clientIP(r)),
			)
		})
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

type holderKey struct{}

// logHolder - логгер запроса, видимый мидлвару Logging после обработчика.
type logHolder struct {
	l *slog.Logger
}

func withHolder(ctx context.Context, h *logHolder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

// annotate добавляет атрибуты к логгеру запроса, в том числе к итоговой записи "http".
func annotate(ctx context.Context, attrs ...slog.Attr) context.Context {
	ctx = log.With(ctx, attrs...)
	if h, ok := ctx.Value(holderKey{}).(*logHolder); ok {
		h.l = log.From(ctx)
	}

	return ctx
}

// tagFinal дополняет итоговую запись "http" атрибутами, не теряя тех, что
// обработчик уже добавил через annotate. Возвращает логгер запроса.
func tagFinal(ctx context.Context, attrs ...slog.Attr) *slog.Logger {
	h, ok := ctx.Value(holderKey{}).(*logHolder)
	if !ok {
		return log.From(log.With(ctx, attrs...))
	}

	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	h.l = h.l.With(args...)

	return h.l
}
