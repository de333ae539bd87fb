package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/exam-auth/internal/codes"
	"github.com/pribylovaa/exam-auth/internal/config"
	"github.com/pribylovaa/exam-auth/internal/mailer"
	"github.com/pribylovaa/exam-auth/internal/ratelimit"
	"github.com/pribylovaa/exam-auth/internal/storage"
	"github.com/pribylovaa/exam-auth/internal/storage/memory"
	"github.com/pribylovaa/exam-auth/internal/storage/postgres"
)

// deps - внешние зависимости сервиса, выбранные по конфигурации.
type deps struct {
	storage storage.Storage
	pg      *postgres.Storage
	rdb     *redis.Client
	smtp    *mailer.SMTP

	mail         codes.Deliverer
	codeStore    codes.Store
	authLimiter  ratelimit.Limiter
	codesLimiter ratelimit.Limiter

	// Периодическая очистка in-memory бэкендов; для Redis не нужна.
	sweepers []func()
}

func setupDeps(ctx context.Context, cfg *config.Config, log *slog.Logger) (*deps, error) {
	const op = "main.setupDeps"

	d := &deps{}

	switch cfg.DB.Driver {
	case config.DriverPostgres:
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pg, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		d.pg, d.storage = pg, pg
		log.Info("postgres_connected")
	default:
		d.storage = memory.New()
		log.Warn("memory_storage_in_use")
	}

	if cfg.Redis.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Redis.RedisURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("%s: parse redis url: %w", op, err)
		}

		d.rdb = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = d.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("%s: redis ping: %w", op, err)
		}

		d.codeStore = codes.NewRedisStore(d.rdb, cfg.Redis.Prefix)
		d.authLimiter = ratelimit.NewRedis(d.rdb, cfg.Redis.Prefix, cfg.RateLimit.Auth.Limit, cfg.RateLimit.Auth.Window)
		d.codesLimiter = ratelimit.NewRedis(d.rdb, cfg.Redis.Prefix, cfg.RateLimit.Codes.Limit, cfg.RateLimit.Codes.Window)
		log.Info("redis_connected")
	} else {
		cs := codes.NewMemoryStore(nil)
		al := ratelimit.NewMemory(cfg.RateLimit.Auth.Limit, cfg.RateLimit.Auth.Window, nil)
		cl := ratelimit.NewMemory(cfg.RateLimit.Codes.Limit, cfg.RateLimit.Codes.Window, nil)

		d.codeStore, d.authLimiter, d.codesLimiter = cs, al, cl
		d.sweepers = append(d.sweepers, cs.Sweep, al.Sweep, cl.Sweep)
		log.Warn("redis_not_configured", slog.String("fallback", "memory"))
	}

	if cfg.Mail.Host != "" {
		smtp, err := mailer.NewSMTP(cfg.Mail)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		d.smtp, d.mail = smtp, smtp
		log.Info("smtp_configured", slog.String("addr", cfg.Mail.Addr()))
	} else {
		d.mail = mailer.Log{}
		log.Warn("smtp_not_configured")
	}

	return d, nil
}

// Ping проверяет доступность Postgres и Redis (если используются).
func (d *deps) Ping(ctx context.Context) error {
	if d.pg != nil {
		if err := d.pg.Ping(ctx); err != nil {
			return err
		}
	}

	if d.rdb != nil {
		if err := d.rdb.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	return nil
}

func (d *deps) sweep() {
	for _, fn := range d.sweepers {
		fn()
	}
}

// Close освобождает соединения. Безопасен для частично инициализированных deps.
func (d *deps) Close() {
	if d.smtp != nil {
		d.smtp.Close()
		d.smtp = nil
	}

	if d.rdb != nil {
		_ = d.rdb.Close()
		d.rdb = nil
	}

	if d.storage != nil {
		d.storage.Close()
		d.storage, d.pg = nil, nil
	}
}
