// mailer доставляет письма с одноразовыми кодами через SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"github.com/pribylovaa/exam-auth/internal/config"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/pkg/log"
	"github.com/pribylovaa/exam-auth/internal/pkg/redact"
)

// defaultSendTimeout используется, если у контекста нет дедлайна.
const defaultSendTimeout = 15 * time.Second

// pool - часть *email.Pool, которой пользуется SMTP.
type pool interface {
	Send(e *email.Email, timeout time.Duration) error
	Close()
}

// SMTP отправляет письма через пул SMTP-соединений.
type SMTP struct {
	pool  pool
	from  string
	brand string
}

// NewSMTP создаёт пул соединений к SMTP-серверу из конфигурации.
func NewSMTP(cfg config.MailConfig) (*SMTP, error) {
	const op = "mailer.NewSMTP"

	var auth smtp.Auth
	if cfg.Username != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         cfg.Host,
	}

	connections := cfg.Connections
	if connections <= 0 {
		connections = 1
	}

	p, err := email.NewPool(cfg.Addr(), connections, auth, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &SMTP{pool: p, from: cfg.From, brand: cfg.Brand}, nil
}

// DeliverCode отправляет письмо с кодом. Время ожидания ограничено дедлайном ctx.
func (s *SMTP) DeliverCode(ctx context.Context, purpose models.CodePurpose, to, name, code string, ttl time.Duration) error {
	const op = "mailer.SMTP.DeliverCode"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	subject, body, err := renderCode(s.brand, purpose, name, code, ttl)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	e := email.NewEmail()
	e.From = s.from
	e.To = []string{to}
	e.Subject = subject
	e.HTML = body

	timeout := defaultSendTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
		if timeout <= 0 {
			return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
		}
	}

	if err := s.pool.Send(e, timeout); err != nil {
		if errors.Is(err, email.ErrTimeout) {
			return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Debug("mail_sent",
		slog.String("purpose", string(purpose)),
		slog.String("to", redact.Email(to)),
	)

	return nil
}

// Close закрывает пул соединений.
func (s *SMTP) Close() {
	s.pool.Close()
}

// Log - отправитель без SMTP: пишет код в лог. Для env=local и тестовых стендов.
type Log struct{}

func (Log) DeliverCode(ctx context.Context, purpose models.CodePurpose, to, _, code string, ttl time.Duration) error {
	log.From(ctx).Info("mail_skipped_no_smtp",
		slog.String("purpose", string(purpose)),
		slog.String("to", redact.Email(to)),
		slog.String("code", code),
		slog.Duration("ttl", ttl),
	)

	return nil
}
