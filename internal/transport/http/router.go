package http

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/pribylovaa/exam-auth/internal/metrics"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/ratelimit"
	"github.com/pribylovaa/exam-auth/internal/transport/http/handlers"
	"github.com/pribylovaa/exam-auth/internal/transport/http/middleware"
)

// Service - всё, что нужно роутеру от сервисного слоя.
type Service interface {
	handlers.AuthService
	middleware.Authenticator
	middleware.RoleChecker
}

// Options - параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой - роуты регистрируются на корне.
	Metrics  *metrics.Metrics

	// AllowedOrigins - источники браузерного клиента для CORS (пусто - CORS выключен).
	AllowedOrigins []string

	// TrustedProxies - подсети прокси, чьим заголовкам X-Forwarded-For верим.
	// Пусто - адрес клиента берётся только из соединения.
	TrustedProxies []netip.Prefix

	// Лимитеры по IP: вход/регистрация и отправка кодов. nil - без лимита.
	AuthLimiter  ratelimit.Limiter
	CodesLimiter ratelimit.Limiter
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),                   // безопасно ловим паники
		middleware.RequestID(),                 // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.RealIP(opts.TrustedProxies), // адрес клиента за доверенным прокси, нужен лимитеру
		middleware.Logging(opts.Logger),        // кладём request-scoped логгер в контекст и логируем
		middleware.Metrics(opts.Metrics),
	)
	if len(opts.AllowedOrigins) > 0 {
		root.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.HeaderRequestID},
			ExposedHeaders:   []string{middleware.HeaderRequestID, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
	}

	h := handlers.New(svc)

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, svc, opts)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, svc, opts)
	return root
}

// registerRoutes - единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, svc Service, opts Options) {
	authLimit := middleware.RateLimit("auth", opts.AuthLimiter, opts.Metrics)
	codesLimit := middleware.RateLimit("codes", opts.CodesLimiter, opts.Metrics)

	// auth
	r.With(authLimit).Post("/auth/signup", h.Signup)
	r.With(authLimit).Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
	r.Post("/auth/reset-password", h.ResetPassword)

	// одноразовые коды
	r.With(codesLimit).Post("/otp/send-otp", h.SendOTP)
	r.Post("/otp/verify-otp", h.VerifyOTP)
	r.With(codesLimit).Post("/verification/send-code", h.SendVerificationCode)
	r.Post("/verification/verify-email", h.VerifyEmail)

	// защищённые маршруты
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(svc))

		r.Get("/user/profile", h.Profile)
		r.Put("/user/profile", h.UpdateProfile)

		r.With(middleware.RequireRole(svc, models.RoleAdmin)).
			Delete("/admin/users/{id}/sessions", h.ForceLogout)
	})
}
