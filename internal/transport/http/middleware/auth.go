package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/pkg/log"
	"github.com/pribylovaa/exam-auth/internal/service"
	"github.com/pribylovaa/exam-auth/internal/transport/http/apierrors"
)

type principalKey struct{}

// Authenticator проверяет access-токен и сессию за ним.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Principal, error)
}

// RoleChecker проверяет роль учётной записи.
type RoleChecker interface {
	RequireRole(ctx context.Context, userID uuid.UUID, role string) error
}

// Authenticate - шлюз защищённых маршрутов: Bearer-токен из Authorization,
// проверка токена и живой сессии. Любой отказ - 401, субъект кладётся в контекст.
func Authenticate(a Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r.Context(), bearerToken(r))
			if err != nil {
				log.From(r.Context()).Info("auth_rejected", slog.String("reason", err.Error()))
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, p)
			ctx = annotate(ctx,
				slog.String("user_id", p.UserID.String()),
				slog.String("session_id", p.SessionID.String()),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole пропускает только учётные записи с ролью role.
// Должен стоять после Authenticate.
func RequireRole(rc RoleChecker, role string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				apierrors.WriteError(w, r, service.ErrMissingToken)
				return
			}

			if err := rc.RequireRole(r.Context(), p.UserID, role); err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFrom достаёт аутентифицированного субъекта из контекста.
func PrincipalFrom(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*models.Principal)
	return p, ok && p != nil
}

// WithPrincipal кладёт субъекта в контекст (для тестов хендлеров).
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")

	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}

	return ""
}
