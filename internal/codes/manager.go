// codes реализует одноразовые коды подтверждения e-mail: выпуск с cooldown,
// хранение bcrypt-хэша, проверку с ограничением попыток и однократным
// использованием.
package codes

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/pribylovaa/exam-auth/internal/metrics"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/pkg/log"
	"github.com/pribylovaa/exam-auth/internal/pkg/redact"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrCodeNotFound - для e-mail нет действующего кода. HTTP 404.
	ErrCodeNotFound = errors.New("code not found")
	// ErrCodeUsed - код уже подтверждён. HTTP 400.
	ErrCodeUsed = errors.New("code already used")
	// ErrCodeExpired - срок действия кода истёк. HTTP 400.
	ErrCodeExpired = errors.New("code expired")
	// ErrTooManyAttempts - исчерпан лимит попыток. HTTP 429.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrUnknownPurpose - неизвестное назначение кода.
	ErrUnknownPurpose = errors.New("unknown code purpose")
)

// InvalidCodeError - неверный код; Remaining - сколько попыток осталось.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid code: %d attempts remaining", e.Remaining)
}

// CooldownError - повторная отправка раньше окончания окна cooldown.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("code was sent recently: retry in %ds", e.Seconds())
}

// Seconds возвращает остаток окна в секундах с округлением вверх (не меньше 1).
func (e *CooldownError) Seconds() int {
	s := int((e.Remaining + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}

	return s
}

// Deliverer доставляет код пользователю (обычно письмом).
type Deliverer interface {
	DeliverCode(ctx context.Context, purpose models.CodePurpose, to, name, code string, ttl time.Duration) error
}

// Policy - время жизни кода и окно cooldown для одного назначения.
type Policy struct {
	TTL      time.Duration
	Cooldown time.Duration
}

// Config - параметры Manager.
type Config struct {
	OTP             Policy
	Verification    Policy
	MaxAttempts     int
	Grace           time.Duration
	HashCost        int
	DeliveryTimeout time.Duration
}

// Pending - выпущенный и сохранённый код, ожидающий подтверждения.
type Pending struct {
	Email     string
	ExpiresAt time.Time
	// Delivered - удалось ли передать письмо почтовому серверу.
	Delivered bool
}

// Manager выпускает и проверяет одноразовые коды.
// Безопасен для конкурентного использования.
type Manager struct {
	store   Store
	mail    Deliverer
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
	gen     func() (string, error)
}

// Option настраивает Manager.
type Option func(*Manager)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithGenerator подменяет генератор кодов.
func WithGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.gen = gen }
}

// WithMetrics подключает метрики.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager создаёт Manager.
func NewManager(store Store, mail Deliverer, cfg Config, opts ...Option) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}

	m := &Manager{
		store: store,
		mail:  mail,
		cfg:   cfg,
		now:   time.Now,
		gen:   GenerateCode,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Send выпускает новый код, если для e-mail не активно окно cooldown.
// Ошибка доставки письма не делает отправку неуспешной: код уже сохранён
// и остаётся действительным.
func (m *Manager) Send(ctx context.Context, purpose models.CodePurpose, email, name string) (*Pending, error) {
	const op = "codes.Manager.Send"

	p, err := m.policy(purpose)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	email = normalize(email)

	left, ok, err := m.store.AcquireCooldown(ctx, purpose, email, p.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		return nil, &CooldownError{Remaining: left}
	}

	pending, err := m.issue(ctx, purpose, p, email, name)
	if err != nil {
		// Код не сохранён - окно cooldown не должно мешать повторной попытке.
		_ = m.store.ClearCooldown(ctx, purpose, email)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pending, nil
}

// Issue выпускает код без проверки cooldown (внутренняя отправка при
// регистрации); окно cooldown при этом открывается.
func (m *Manager) Issue(ctx context.Context, purpose models.CodePurpose, email, name string) (*Pending, error) {
	const op = "codes.Manager.Issue"

	p, err := m.policy(purpose)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	email = normalize(email)

	if err := m.store.SetCooldown(ctx, purpose, email, p.Cooldown); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pending, err := m.issue(ctx, purpose, p, email, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pending, nil
}

func (m *Manager) issue(ctx context.Context, purpose models.CodePurpose, p Policy, email, name string) (*Pending, error) {
	code, err := m.gen()
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), m.cfg.HashCost)
	if err != nil {
		return nil, err
	}

	now := m.now()
	rec := &models.VerificationCode{
		Email:     email,
		CodeHash:  string(hash),
		CreatedAt: now,
		ExpiresAt: now.Add(p.TTL),
	}

	// Запись переживает срок действия на grace, чтобы проверка после
	// истечения отвечала «истёк», а не «не найден».
	if err := m.store.Put(ctx, purpose, rec, p.TTL+m.cfg.Grace); err != nil {
		return nil, err
	}

	delivered := m.deliver(ctx, purpose, p, email, name, code)
	m.metrics.CodeSent(string(purpose), delivered)

	log.From(ctx).Info("code_issued",
		slog.String("purpose", string(purpose)),
		slog.String("email", redact.Email(email)),
		slog.Bool("delivered", delivered),
	)

	return &Pending{Email: email, ExpiresAt: rec.ExpiresAt, Delivered: delivered}, nil
}

// deliver отправляет код с ограничением по времени. При неудаче код пишется
// в лог: это резервный канал восстановления доступа.
func (m *Manager) deliver(ctx context.Context, purpose models.CodePurpose, p Policy, email, name, code string) bool {
	if m.mail == nil {
		return false
	}

	dctx := context.WithoutCancel(ctx)
	if m.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(dctx, m.cfg.DeliveryTimeout)
		defer cancel()
	}

	if err := m.mail.DeliverCode(dctx, purpose, email, name, code, p.TTL); err != nil {
		log.From(ctx).Warn("code_delivery_failed",
			slog.String("purpose", string(purpose)),
			slog.String("email", redact.Email(email)),
			slog.String("code", code),
			slog.String("err", err.Error()),
		)

		return false
	}

	return true
}

// Verify проверяет код. Возможные ошибки: ErrCodeNotFound, ErrCodeUsed,
// ErrCodeExpired, ErrTooManyAttempts, *InvalidCodeError.
// Просроченная или исчерпанная запись удаляется.
func (m *Manager) Verify(ctx context.Context, purpose models.CodePurpose, email, code string) error {
	const op = "codes.Manager.Verify"

	if _, err := m.policy(purpose); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	email = normalize(email)

	err := m.verify(ctx, purpose, email, code)
	m.metrics.CodeVerified(string(purpose), outcome(err))

	if err != nil {
		log.From(ctx).Info("code_rejected",
			slog.String("purpose", string(purpose)),
			slog.String("email", redact.Email(email)),
			slog.String("reason", outcome(err)),
		)
	}

	return err
}

func (m *Manager) verify(ctx context.Context, purpose models.CodePurpose, email, code string) error {
	const op = "codes.Manager.Verify"

	rec, err := m.store.Get(ctx, purpose, email)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrCodeNotFound
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if rec.Used {
		return ErrCodeUsed
	}

	if m.now().After(rec.ExpiresAt) {
		if err := m.store.Delete(ctx, purpose, email); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		return ErrCodeExpired
	}

	if rec.Attempts >= m.cfg.MaxAttempts {
		if err := m.store.Delete(ctx, purpose, email); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) != nil {
		n, err := m.store.IncrementAttempts(ctx, purpose, email)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return ErrCodeNotFound
			}

			return fmt.Errorf("%s: %w", op, err)
		}

		remaining := m.cfg.MaxAttempts - n
		if remaining < 0 {
			remaining = 0
		}

		return &InvalidCodeError{Remaining: remaining}
	}

	// Подтверждённый код должен дожить до сброса пароля: до конца TTL плюс grace.
	keep := m.cfg.Grace
	if left := rec.ExpiresAt.Sub(m.now()); left > 0 {
		keep += left
	}

	ok, err := m.store.MarkUsed(ctx, purpose, email, rec.CodeHash, m.cfg.MaxAttempts, keep)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		// Запись изменилась между чтением и CAS: параллельная проверка уже
		// подтвердила код либо попытки закончились.
		cur, err := m.store.Get(ctx, purpose, email)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return ErrCodeNotFound
		case err != nil:
			return fmt.Errorf("%s: %w", op, err)
		case cur.Attempts >= m.cfg.MaxAttempts && !cur.Used:
			return ErrTooManyAttempts
		default:
			return ErrCodeUsed
		}
	}

	return nil
}

// Verified сообщает, есть ли для e-mail подтверждённый и ещё не погашенный код.
// Запись не меняется.
func (m *Manager) Verified(ctx context.Context, purpose models.CodePurpose, email string) (bool, error) {
	const op = "codes.Manager.Verified"

	rec, err := m.store.Get(ctx, purpose, normalize(email))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return rec.Used, nil
}

// Consume погашает подтверждённый код: возвращает true и удаляет запись,
// если код для e-mail был успешно проверен и ещё не погашен.
func (m *Manager) Consume(ctx context.Context, purpose models.CodePurpose, email string) (bool, error) {
	const op = "codes.Manager.Consume"

	ok, err := m.store.TakeUsed(ctx, purpose, normalize(email))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

func (m *Manager) policy(purpose models.CodePurpose) (Policy, error) {
	switch purpose {
	case models.PurposeOTP:
		return m.cfg.OTP, nil
	case models.PurposeVerification:
		return m.cfg.Verification, nil
	default:
		return Policy{}, ErrUnknownPurpose
	}
}

// GenerateCode возвращает равномерно случайный шестизначный код 100000..999999.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func outcome(err error) string {
	var invalid *InvalidCodeError

	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, ErrCodeUsed):
		return "used"
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.As(err, &invalid):
		return "invalid"
	default:
		return "error"
	}
}

func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
