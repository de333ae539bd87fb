package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Timeout ограничивает запрос дедлайном d, если внешний дедлайн не задан.
// Значение <=0 делает мидлвар no-op.
//
// Если обработчик вернулся уже после дедлайна (bcrypt, SMTP или БД не уложились),
// пишется предупреждение request_deadline_exceeded, а итоговая запись "http"
// получает deadline_exceeded=true.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				tagFinal(ctx, slog.Bool("deadline_exceeded", true)).Warn("request_deadline_exceeded",
					slog.String("path", r.URL.Path),
					slog.Duration("timeout", d),
					slog.Duration("elapsed", time.Since(start)),
				)
			}
		})
	}
}
