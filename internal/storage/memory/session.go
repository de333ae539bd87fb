package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/storage"
)

// SaveSession добавляет сессию; как и уникальный индекс в PostgreSQL,
// не допускает второй сессии у того же пользователя.
func (s *Storage) SaveSession(ctx context.Context, sess *models.Session) error {
	const op = "storage.memory.SaveSession"

	if err := ctx.Err(); err != nil {
		return wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cur := range s.sessions {
		if cur.UserID == sess.UserID {
			return wrap(op, storage.ErrAlreadyExists)
		}
	}

	cp := *sess
	s.sessions[sess.ID] = &cp

	return nil
}

// ReplaceSessions удаляет сессии пользователя и добавляет новую под одной блокировкой.
func (s *Storage) ReplaceSessions(ctx context.Context, sess *models.Session) (int64, error) {
	const op = "storage.memory.ReplaceSessions"

	if err := ctx.Err(); err != nil {
		return 0, wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[sess.UserID]; !ok {
		return 0, wrap(op, storage.ErrNotFound)
	}

	removed := s.deleteByUserLocked(sess.UserID)
	cp := *sess
	s.sessions[sess.ID] = &cp

	return removed, nil
}

func (s *Storage) DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "storage.memory.DeleteSessionsByUser"

	if err := ctx.Err(); err != nil {
		return 0, wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteByUserLocked(userID), nil
}

func (s *Storage) SessionByID(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error) {
	const op = "storage.memory.SessionByID"

	if err := ctx.Err(); err != nil {
		return nil, wrap(op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, wrap(op, storage.ErrNotFound)
	}

	cp := *sess
	return &cp, nil
}

func (s *Storage) TouchSession(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	const op = "storage.memory.TouchSession"

	if err := ctx.Err(); err != nil {
		return wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return wrap(op, storage.ErrNotFound)
	}

	sess.LastUsedAt = now

	return nil
}

func (s *Storage) DeleteSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	const op = "storage.memory.DeleteSession"

	if err := ctx.Err(); err != nil {
		return false, wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)

	return ok, nil
}

func (s *Storage) DeleteSessionByRefreshHash(ctx context.Context, hash string) (bool, error) {
	const op = "storage.memory.DeleteSessionByRefreshHash"

	if err := ctx.Err(); err != nil {
		return false, wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := false
	for id, sess := range s.sessions {
		if sess.RefreshTokenHash == hash {
			delete(s.sessions, id)
			deleted = true
		}
	}

	return deleted, nil
}

func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.memory.DeleteExpiredSessions"

	if err := ctx.Err(); err != nil {
		return 0, wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			n++
		}
	}

	return n, nil
}

// SessionsByUser возвращает копии всех сессий пользователя.
func (s *Storage) SessionsByUser(userID uuid.UUID) []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}

	return out
}

func (s *Storage) deleteByUserLocked(userID uuid.UUID) int64 {
	var n int64
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}

	return n
}

func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
