package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/storage"
)

const insertSession = `
	INSERT INTO sessions(id, user_id, refresh_token_hash, user_agent, ip_address,
		created_at, last_used_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// SaveSession сохраняет новую сессию.
func (s *Storage) SaveSession(ctx context.Context, sess *models.Session) error {
	const op = "storage.postgres.SaveSession"

	if _, err := s.db.Exec(ctx, insertSession, sessionArgs(sess)...); err != nil {
		if dup := duplicateFromPg(err); dup != nil {
			return fmt.Errorf("%s: %w", op, dup)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ReplaceSessions удаляет все сессии пользователя и сохраняет новую в одной транзакции.
// Строка учётной записи блокируется (FOR UPDATE), поэтому параллельные входы
// одного пользователя выполняются последовательно и оставляют ровно одну сессию.
func (s *Storage) ReplaceSessions(ctx context.Context, sess *models.Session) (int64, error) {
	const op = "storage.postgres.ReplaceSessions"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, sess.UserID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, sess.UserID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.Exec(ctx, insertSession, sessionArgs(sess)...); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// DeleteSessionsByUser удаляет все сессии пользователя.
func (s *Storage) DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "storage.postgres.DeleteSessionsByUser"

	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// SessionByID находит сессию по составному ключу (user_id, id).
func (s *Storage) SessionByID(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error) {
	const op = "storage.postgres.SessionByID"

	query := `
		SELECT id, user_id, refresh_token_hash, user_agent, ip_address,
		       created_at, last_used_at, expires_at
		FROM sessions
		WHERE id = $1 AND user_id = $2
	`

	var sess models.Session
	err := s.db.QueryRow(ctx, query, sessionID, userID).Scan(
		&sess.ID,
		&sess.UserID,
		&sess.RefreshTokenHash,
		&sess.UserAgent,
		&sess.IPAddress,
		&sess.CreatedAt,
		&sess.LastUsedAt,
		&sess.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &sess, nil
}

// TouchSession обновляет время последнего использования.
func (s *Storage) TouchSession(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	const op = "storage.postgres.TouchSession"

	tag, err := s.db.Exec(ctx, `UPDATE sessions SET last_used_at = $2 WHERE id = $1`, sessionID, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// DeleteSession удаляет сессию по id.
func (s *Storage) DeleteSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	const op = "storage.postgres.DeleteSession"

	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteSessionByRefreshHash удаляет сессию по хэшу refresh-токена.
func (s *Storage) DeleteSessionByRefreshHash(ctx context.Context, hash string) (bool, error) {
	const op = "storage.postgres.DeleteSessionByRefreshHash"

	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE refresh_token_hash = $1`, hash)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteExpiredSessions удаляет все просроченные сессии.
func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredSessions"

	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func sessionArgs(sess *models.Session) []any {
	return []any{
		sess.ID,
		sess.UserID,
		sess.RefreshTokenHash,
		sess.UserAgent,
		sess.IPAddress,
		sess.CreatedAt,
		sess.LastUsedAt,
		sess.ExpiresAt,
	}
}
