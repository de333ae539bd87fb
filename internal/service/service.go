// service содержит бизнес-логику аутентификации:
// регистрацию и вход, выпуск и проверку токенов, реестр сессий
// с правилом «одна сессия на пользователя» и одноразовые коды.
//
// Service не хранит состояние запроса и безопасен для конкурентного
// использования, если безопасны переданные хранилища.
// Ошибки - значения ниже; транспорт переводит их в HTTP-коды.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pribylovaa/exam-auth/internal/codes"
	"github.com/pribylovaa/exam-auth/internal/config"
	"github.com/pribylovaa/exam-auth/internal/metrics"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// ErrValidation - общий корень ошибок валидации входных данных (HTTP 400).
var ErrValidation = errors.New("validation failed")

// ValidationError - ошибка формата входных данных; Error() пригоден для клиента.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Ошибки валидации (HTTP 400).
var (
	ErrNameRequired       error = &ValidationError{"Name is required"}
	ErrInvalidEmail       error = &ValidationError{"Valid email is required"}
	ErrInvalidUsername    error = &ValidationError{"Username must be at least 3 characters"}
	ErrPhoneRequired      error = &ValidationError{"Phone is required"}
	ErrWeakPassword       error = &ValidationError{"Password must be at least 6 characters"}
	ErrIdentifierRequired error = &ValidationError{"Email or username is required"}
	ErrPasswordRequired   error = &ValidationError{"Password is required"}
	ErrRefreshRequired    error = &ValidationError{"Refresh token required"}
	ErrInvalidCodeFormat  error = &ValidationError{"Code must be 6 digits"}
	ErrEmptyProfileUpdate error = &ValidationError{"Nothing to update"}
)

var (
	// ErrEmailTaken - e-mail уже зарегистрирован. HTTP 409.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUsernameTaken - username занят. HTTP 409.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrPhoneTaken - телефон уже зарегистрирован. HTTP 409.
	ErrPhoneTaken = errors.New("phone number already registered")

	// ErrInvalidCredentials - неверный логин или пароль; намеренно не уточняет,
	// что именно не так. HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingToken - токен не передан. HTTP 401.
	ErrMissingToken = errors.New("no token provided")
	// ErrInvalidToken - неверная подпись или формат токена. HTTP 401.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired - срок действия токена истёк. HTTP 401.
	ErrTokenExpired = errors.New("token expired")
	// ErrWrongTokenType - access вместо refresh или наоборот. HTTP 401.
	ErrWrongTokenType = errors.New("invalid token type")
	// ErrMissingSessionBinding - в токене нет идентификатора сессии. HTTP 401.
	ErrMissingSessionBinding = errors.New("invalid token: missing session id")

	// ErrSessionInvalid - сессии нет или она не совпадает с токеном; почти всегда
	// это значит, что пользователь вошёл с другого устройства. HTTP 401.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrSessionExpired - сессия истекла и удалена. HTTP 401.
	ErrSessionExpired = errors.New("session expired")

	// ErrUserNotFound - учётной записи нет. HTTP 404.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailAlreadyVerified - e-mail уже подтверждён. HTTP 400.
	ErrEmailAlreadyVerified = errors.New("email already verified")
	// ErrResetNotAuthorized - сброс пароля без подтверждённого кода. HTTP 403.
	ErrResetNotAuthorized = errors.New("password reset requires a verified code")
	// ErrForbidden - недостаточно прав. HTTP 403.
	ErrForbidden = errors.New("forbidden")
)

//go:generate mockgen -source=service.go -destination=../mocks/code_manager.go -package=mocks

// CodeManager - одноразовые коды (реализация - codes.Manager).
type CodeManager interface {
	Send(ctx context.Context, purpose models.CodePurpose, email, name string) (*codes.Pending, error)
	Issue(ctx context.Context, purpose models.CodePurpose, email, name string) (*codes.Pending, error)
	Verify(ctx context.Context, purpose models.CodePurpose, email, code string) error
	Verified(ctx context.Context, purpose models.CodePurpose, email string) (bool, error)
	Consume(ctx context.Context, purpose models.CodePurpose, email string) (bool, error)
}

// Service описывает бизнес-логику сервиса.
type Service struct {
	storage storage.Storage
	codes   CodeManager
	cfg     config.AuthConfig
	metrics *metrics.Metrics
	now     func() time.Time

	// dummyHash сравнивается с паролем, когда учётной записи нет: время ответа
	// входа не выдаёт, существует ли логин.
	dummyHash []byte

	// bg - фоновые отправки кодов после регистрации.
	bg sync.WaitGroup
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New создаёт новый экземпляр Service.
func New(st storage.Storage, cm CodeManager, cfg config.AuthConfig, opts ...Option) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	s := &Service{
		storage: st,
		codes:   cm,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("exam-auth-dummy-password"), cfg.BcryptCost)

	return s
}

// Wait дожидается завершения фоновых отправок (для остановки сервиса и тестов).
func (s *Service) Wait() {
	s.bg.Wait()
}
