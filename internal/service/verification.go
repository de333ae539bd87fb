package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/exam-auth/internal/codes"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/pkg/log"
	"github.com/pribylovaa/exam-auth/internal/pkg/redact"
	"github.com/pribylovaa/exam-auth/internal/storage"
)

const codeLen = 6

// SendCode выпускает одноразовый код и отправляет его на e-mail.
// Для подтверждения e-mail учётная запись должна существовать и быть
// ещё не подтверждённой; имя адресата берётся из неё, если не передано.
func (s *Service) SendCode(ctx context.Context, purpose models.CodePurpose, email, name string) (*codes.Pending, error) {
	const op = "service.verification.SendCode"

	email, ok := normalizeEmail(email)
	if !ok {
		return nil, ErrInvalidEmail
	}

	if purpose == models.PurposeVerification {
		acc, err := s.storage.AccountByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
			}

			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if acc.EmailVerified {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailAlreadyVerified)
		}

		if name == "" {
			name = acc.Name
		}
	}

	pending, err := s.codes.Send(ctx, purpose, email, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pending, nil
}

// VerifyCode проверяет код. Успешное подтверждение владения e-mail
// помечает учётную запись подтверждённой.
func (s *Service) VerifyCode(ctx context.Context, purpose models.CodePurpose, email, code string) error {
	const op = "service.verification.VerifyCode"

	email, ok := normalizeEmail(email)
	if !ok {
		return ErrInvalidEmail
	}

	if !validCode(code) {
		return ErrInvalidCodeFormat
	}

	if err := s.codes.Verify(ctx, purpose, email, code); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if purpose != models.PurposeVerification {
		return nil
	}

	if err := s.storage.MarkVerified(ctx, email, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("email_verified", slog.String("email", redact.Email(email)))

	return nil
}

// sendVerificationAsync отправляет код подтверждения после регистрации.
// Ответ на регистрацию его не ждёт; ошибка только логируется.
func (s *Service) sendVerificationAsync(ctx context.Context, acc *models.Account) {
	if s.codes == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	email, name := acc.Email, acc.Name

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		if _, err := s.codes.Issue(ctx, models.PurposeVerification, email, name); err != nil {
			log.From(ctx).Warn("signup_code_failed",
				slog.String("email", redact.Email(email)),
				slog.String("err", err.Error()),
			)
		}
	}()
}

func validCode(code string) bool {
	if len(code) != codeLen {
		return false
	}

	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}

	return true
}
