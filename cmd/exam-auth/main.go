package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/exam-auth/internal/codes"
	"github.com/pribylovaa/exam-auth/internal/config"
	"github.com/pribylovaa/exam-auth/internal/metrics"
	"github.com/pribylovaa/exam-auth/internal/service"
	authhttp "github.com/pribylovaa/exam-auth/internal/transport/http"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting exam-auth", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr := metrics.New(reg)

	infra, err := setupDeps(rootCtx, cfg, log)
	if err != nil {
		log.Error("deps_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer infra.Close()

	cm := codes.NewManager(infra.codeStore, infra.mail, codes.Config{
		OTP:             codes.Policy{TTL: cfg.Codes.OTP.TTL, Cooldown: cfg.Codes.OTP.Cooldown},
		Verification:    codes.Policy{TTL: cfg.Codes.Verification.TTL, Cooldown: cfg.Codes.Verification.Cooldown},
		MaxAttempts:     cfg.Codes.MaxAttempts,
		Grace:           cfg.Codes.Grace,
		HashCost:        cfg.Codes.HashCost,
		DeliveryTimeout: cfg.Timeouts.Mail,
	}, codes.WithMetrics(mtr))

	svc := service.New(infra.storage, cm, cfg.Auth, service.WithMetrics(mtr))
	log.Info("service_initialized")

	// Validate уже проверил список, ошибки здесь нет.
	trusted, _ := cfg.HTTP.TrustedPrefixes()

	apiHandler := authhttp.NewRouter(svc, authhttp.Options{
		Logger:         log,
		Timeout:        cfg.Timeouts.Request,
		BasePath:       cfg.HTTP.BasePath,
		Metrics:        mtr,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustedProxies: trusted,
		AuthLimiter:    infra.authLimiter,
		CodesLimiter:   infra.codesLimiter,
	})

	var ready int32 // 0 - not ready; 1 - ready

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&ready) == 1 && infra.Ping(r.Context()) == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}

		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.Handle("/", apiHandler)

	// Фоновая очистка просроченных сессий, кодов и окон лимитера.
	startJanitor(rootCtx, svc, infra, log, cfg.Janitor.Period)

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		infra.Close()
		os.Exit(1)
	}

	log.Info("http_listen_start", slog.String("addr", httpAddr))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	atomic.StoreInt32(&ready, 1)
	log.Info("service_ready")

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	// Дожидаемся фоновой отправки кодов, запущенной при регистрации.
	svc.Wait()

	log.Info("service_stopped")
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// startJanitor периодически удаляет просроченные сессии и, для in-memory
// бэкендов, протухшие коды и окна лимитера.
func startJanitor(ctx context.Context, svc *service.Service, d *deps, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := svc.PurgeExpiredSessions(ctx)
				if err != nil {
					log.Error("session_janitor_failed", slog.String("err", err.Error()))
				} else if n > 0 {
					log.Info("session_janitor_purged", slog.Int64("deleted", n))
				}

				d.sweep()
			}
		}
	}()
}
