package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/pkg/log"
	"github.com/pribylovaa/exam-auth/internal/pkg/redact"
	"github.com/pribylovaa/exam-auth/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 6
	minUsernameLen = 3
)

// SignupInput - данные регистрации.
type SignupInput struct {
	Name     string
	Email    string
	Username string
	Phone    string
	Password string
}

// AuthResult - результат регистрации или входа.
type AuthResult struct {
	Account   *models.Account
	Tokens    *models.TokenPair
	SessionID uuid.UUID
}

// Signup регистрирует пользователя, открывает первую сессию и в фоне
// отправляет код подтверждения e-mail.
func (s *Service) Signup(ctx context.Context, in SignupInput, client ClientInfo) (*AuthResult, error) {
	const op = "service.auth.Signup"

	in, err := normalizeSignup(in)
	if err != nil {
		return nil, err
	}

	if err := s.ensureUnique(ctx, in); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	acc := &models.Account{
		ID:           uuid.New(),
		Name:         in.Name,
		Email:        in.Email,
		Username:     in.Username,
		Phone:        in.Phone,
		PasswordHash: string(hash),
		Role:         models.RoleStudent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, conflictFromStorage(err))
	}

	tokens, sid, err := s.openSession(ctx, acc, client)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("signup_ok",
		slog.String("user_id", acc.ID.String()),
		slog.String("email", redact.Email(acc.Email)),
	)

	s.sendVerificationAsync(ctx, acc)

	return &AuthResult{Account: acc, Tokens: tokens, SessionID: sid}, nil
}

// Login проверяет логин (e-mail или username) и пароль и открывает новую
// сессию, удаляя все прежние сессии пользователя.
func (s *Service) Login(ctx context.Context, identifier, password string, client ClientInfo) (*AuthResult, error) {
	const op = "service.auth.Login"

	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return nil, ErrIdentifierRequired
	}

	if password == "" {
		return nil, ErrPasswordRequired
	}

	var (
		acc *models.Account
		err error
	)
	if strings.Contains(identifier, "@") {
		acc, err = s.storage.AccountByEmail(ctx, identifier)
	} else {
		acc, err = s.storage.AccountByUsername(ctx, identifier)
	}

	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			s.metrics.Login("invalid_credentials")
			log.From(ctx).Info("login_failed", slog.String("identifier", redact.Identifier(identifier)))
			return nil, ErrInvalidCredentials
		}

		s.metrics.Login("error")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		s.metrics.Login("invalid_credentials")
		log.From(ctx).Info("login_failed", slog.String("identifier", redact.Identifier(identifier)))
		return nil, ErrInvalidCredentials
	}

	tokens, sid, err := s.openSession(ctx, acc, client)
	if err != nil {
		s.metrics.Login("error")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Login("ok")
	log.From(ctx).Info("login_ok",
		slog.String("user_id", acc.ID.String()),
		slog.String("session_id", sid.String()),
	)

	return &AuthResult{Account: acc, Tokens: tokens, SessionID: sid}, nil
}

// Refresh выпускает новый access-токен для той же сессии.
// Refresh-токен не ротируется.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "service.auth.Refresh"

	if refreshToken == "" {
		return nil, ErrRefreshRequired
	}

	claims, err := s.VerifyToken(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.validateSession(ctx, claims.UserID, claims.SessionID, refreshToken); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	access, exp, err := s.IssueAccess(claims.UserID, claims.Email, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.touchSession(ctx, claims.SessionID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     access,
		RefreshToken:    refreshToken,
		AccessExpiresAt: exp,
	}, nil
}

// Logout завершает сессию, к которой привязан refresh-токен.
// Идемпотентен: пустой, чужой или уже отозванный токен не считается ошибкой.
// Если токен не проходит проверку, сессия ищется по хэшу самого токена.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}

	var (
		deleted bool
		err     error
	)
	if claims, verr := s.VerifyToken(refreshToken, ""); verr == nil {
		deleted, err = s.storage.DeleteSession(ctx, claims.SessionID)
	} else {
		deleted, err = s.storage.DeleteSessionByRefreshHash(ctx, hashToken(refreshToken))
	}

	if err != nil {
		log.From(ctx).Error("logout_failed", slog.String("err", err.Error()))
		return
	}

	log.From(ctx).Info("logout", slog.Bool("deleted", deleted))
}

// ResetPassword меняет пароль по e-mail. Если включено ResetRequiresCode,
// для e-mail должен существовать подтверждённый и ещё не погашенный OTP.
func (s *Service) ResetPassword(ctx context.Context, email, password string) error {
	const op = "service.auth.ResetPassword"

	email, ok := normalizeEmail(email)
	if !ok {
		return ErrInvalidEmail
	}

	if utf8.RuneCountInString(password) < minPasswordLen {
		return ErrWeakPassword
	}

	acc, err := s.storage.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	// Здесь код только проверяется; гасится он после успешной смены пароля.
	if s.cfg.ResetRequiresCode {
		if s.codes == nil {
			return fmt.Errorf("%s: %w", op, ErrResetNotAuthorized)
		}

		ok, err := s.codes.Verified(ctx, models.PurposeOTP, email)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if !ok {
			return fmt.Errorf("%s: %w", op, ErrResetNotAuthorized)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.UpdatePasswordHash(ctx, email, string(hash), s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if s.cfg.ResetRequiresCode {
		// Пароль уже сменён: неудачное погашение (например, параллельный сброс
		// успел раньше) только логируется.
		if ok, err := s.codes.Consume(ctx, models.PurposeOTP, email); err != nil || !ok {
			attrs := []any{slog.String("email", redact.Email(email)), slog.Bool("consumed", ok)}
			if err != nil {
				attrs = append(attrs, slog.String("err", err.Error()))
			}
			log.From(ctx).Warn("reset_code_consume_failed", attrs...)
		}
	}

	var revoked int64
	if s.cfg.ResetRevokesSessions {
		revoked, err = s.storage.DeleteSessionsByUser(ctx, acc.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	log.From(ctx).Info("password_reset",
		slog.String("user_id", acc.ID.String()),
		slog.Int64("sessions_revoked", revoked),
	)

	return nil
}

// Profile возвращает учётную запись пользователя.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	const op = "service.auth.Profile"

	acc, err := s.storage.AccountByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

// UpdateProfile меняет имя, username и телефон. Пустые строки игнорируются.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, upd models.ProfileUpdate) (*models.Account, error) {
	const op = "service.auth.UpdateProfile"

	upd = trimUpdate(upd)
	if upd.Name == nil && upd.Username == nil && upd.Phone == nil {
		return nil, ErrEmptyProfileUpdate
	}

	if upd.Username != nil && utf8.RuneCountInString(*upd.Username) < minUsernameLen {
		return nil, ErrInvalidUsername
	}

	acc, err := s.storage.UpdateProfile(ctx, userID, upd, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, conflictFromStorage(err))
	}

	return acc, nil
}

// RequireRole проверяет роль учётной записи по хранилищу.
func (s *Service) RequireRole(ctx context.Context, userID uuid.UUID, role string) error {
	const op = "service.auth.RequireRole"

	acc, err := s.storage.AccountByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrForbidden)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if acc.Role != role {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	return nil
}

func (s *Service) ensureUnique(ctx context.Context, in SignupInput) error {
	checks := []struct {
		lookup func(context.Context, string) (*models.Account, error)
		value  string
		taken  error
	}{
		{s.storage.AccountByEmail, in.Email, ErrEmailTaken},
		{s.storage.AccountByUsername, in.Username, ErrUsernameTaken},
		{s.storage.AccountByPhone, in.Phone, ErrPhoneTaken},
	}

	for _, c := range checks {
		_, err := c.lookup(ctx, c.value)
		if err == nil {
			return c.taken
		}

		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	return nil
}

// conflictFromStorage переводит нарушение уникальности в ошибку конкретного поля.
func conflictFromStorage(err error) error {
	var dup *storage.DuplicateError
	if !errors.As(err, &dup) {
		return err
	}

	switch dup.Field {
	case storage.FieldEmail:
		return ErrEmailTaken
	case storage.FieldUsername:
		return ErrUsernameTaken
	case storage.FieldPhone:
		return ErrPhoneTaken
	default:
		return err
	}
}

func normalizeSignup(in SignupInput) (SignupInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Phone = strings.TrimSpace(in.Phone)

	if in.Name == "" {
		return in, ErrNameRequired
	}

	email, ok := normalizeEmail(in.Email)
	if !ok {
		return in, ErrInvalidEmail
	}
	in.Email = email

	if utf8.RuneCountInString(in.Username) < minUsernameLen {
		return in, ErrInvalidUsername
	}

	if in.Phone == "" {
		return in, ErrPhoneRequired
	}

	if utf8.RuneCountInString(in.Password) < minPasswordLen {
		return in, ErrWeakPassword
	}

	return in, nil
}

// normalizeEmail приводит адрес к нижнему регистру и проверяет, что это
// голый адрес без отображаемого имени.
func normalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}

	return email, true
}

func trimUpdate(upd models.ProfileUpdate) models.ProfileUpdate {
	trim := func(p *string, lower bool) *string {
		if p == nil {
			return nil
		}

		v := strings.TrimSpace(*p)
		if lower {
			v = strings.ToLower(v)
		}

		if v == "" {
			return nil
		}

		return &v
	}

	return models.ProfileUpdate{
		Name:     trim(upd.Name, false),
		Username: trim(upd.Username, true),
		Phone:    trim(upd.Phone, false),
	}
}
