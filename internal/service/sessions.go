package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/pkg/log"
	"github.com/pribylovaa/exam-auth/internal/storage"
)

// ClientInfo - сведения об устройстве клиента для записи сессии.
type ClientInfo struct {
	UserAgent string
	IP        string
}

// openSession создаёт сессию и выпускает привязанную к ней пару токенов.
// Все прежние сессии пользователя удаляются; удаление и вставка выполняются
// хранилищем атомарно. Так и при регистрации параллельный вход не приводит
// к конфликту уникальности sessions(user_id).
func (s *Service) openSession(ctx context.Context, acc *models.Account, client ClientInfo) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.sessions.openSession"

	sid := uuid.New()

	access, accessExp, err := s.IssueAccess(acc.ID, acc.Email, sid)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, _, err := s.IssueRefresh(acc.ID, acc.Email, sid)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	sess := &models.Session{
		ID:               sid,
		UserID:           acc.ID,
		RefreshTokenHash: hashToken(refresh),
		UserAgent:        client.UserAgent,
		IPAddress:        client.IP,
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        now.Add(s.cfg.SessionTTL),
	}

	removed, err := s.storage.ReplaceSessions(ctx, sess)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	if removed > 0 {
		s.metrics.SessionsSuperseded(removed)
		log.From(ctx).Info("sessions_superseded",
			slog.String("user_id", acc.ID.String()),
			slog.Int64("count", removed),
		)
	}

	return &models.TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: accessExp,
	}, sid, nil
}

// validateSession ищет сессию по (userID, sessionID). Если refreshToken не пуст,
// его хэш должен совпасть с сохранённым. Истёкшая сессия удаляется.
func (s *Service) validateSession(ctx context.Context, userID, sessionID uuid.UUID, refreshToken string) (*models.Session, error) {
	const op = "service.sessions.validateSession"

	sess, err := s.storage.SessionByID(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.SessionRejected("missing")
			return nil, fmt.Errorf("%s: %w", op, ErrSessionInvalid)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if refreshToken != "" &&
		subtle.ConstantTimeCompare([]byte(hashToken(refreshToken)), []byte(sess.RefreshTokenHash)) != 1 {
		s.metrics.SessionRejected("refresh_mismatch")
		return nil, fmt.Errorf("%s: %w", op, ErrSessionInvalid)
	}

	if isExpired(sess, s.now()) {
		s.metrics.SessionRejected("expired")
		if _, err := s.storage.DeleteSession(ctx, sess.ID); err != nil {
			log.From(ctx).Warn("expired_session_delete_failed",
				slog.String("session_id", sess.ID.String()),
				slog.String("err", err.Error()),
			)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrSessionExpired)
	}

	return sess, nil
}

// touchSession обновляет время последнего использования. Если сессию успели
// удалить (новый вход), это ErrSessionInvalid.
func (s *Service) touchSession(ctx context.Context, sessionID uuid.UUID) error {
	const op = "service.sessions.touchSession"

	if err := s.storage.TouchSession(ctx, sessionID, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrSessionInvalid)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func isExpired(sess *models.Session, now time.Time) bool {
	return sess.Expired(now)
}

// Authenticate проверяет bearer access-токен и живую сессию за ним.
// Используется шлюзом защищённых маршрутов.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.Principal, error) {
	const op = "service.sessions.Authenticate"

	if accessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingToken)
	}

	claims, err := s.VerifyToken(accessToken, models.TokenTypeAccess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.validateSession(ctx, claims.UserID, claims.SessionID, ""); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.touchSession(ctx, claims.SessionID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Principal{
		UserID:    claims.UserID,
		Email:     claims.Email,
		SessionID: claims.SessionID,
	}, nil
}

// ForceLogout удаляет все сессии пользователя (административное действие).
func (s *Service) ForceLogout(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.sessions.ForceLogout"

	if _, err := s.storage.AccountByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := s.storage.DeleteSessionsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("sessions_revoked",
		slog.String("user_id", userID.String()),
		slog.Int64("count", n),
	)

	return n, nil
}

// PurgeExpiredSessions удаляет истёкшие сессии (фоновая очистка).
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	const op = "service.sessions.PurgeExpiredSessions"

	n, err := s.storage.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.JanitorDeleted(n)

	return n, nil
}
