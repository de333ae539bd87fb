package storage

//go:generate mockgen -source=storage.go -destination=../mocks/storage.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/models"
)

var (
	// ErrNotFound - запись не найдена (учётная запись/сессия).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists - нарушение уникальности (email/username/phone).
	ErrAlreadyExists = errors.New("already exists")
)

// Поля учётной записи с ограничением уникальности.
const (
	FieldEmail    = "email"
	FieldUsername = "username"
	FieldPhone    = "phone"
)

// DuplicateError уточняет ErrAlreadyExists полем, на котором случился конфликт.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, ErrAlreadyExists)
}

func (e *DuplicateError) Unwrap() error { return ErrAlreadyExists }

// AccountStorage выполняет операции над учётными записями.
// Email и username передаются уже нормализованными (нижний регистр).
type AccountStorage interface {
	// SaveAccount создаёт учётную запись; при конфликте - *DuplicateError.
	SaveAccount(ctx context.Context, acc *models.Account) error
	AccountByEmail(ctx context.Context, email string) (*models.Account, error)
	AccountByUsername(ctx context.Context, username string) (*models.Account, error)
	AccountByPhone(ctx context.Context, phone string) (*models.Account, error)
	AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	// UpdatePasswordHash меняет хэш пароля по email.
	UpdatePasswordHash(ctx context.Context, email, hash string, now time.Time) error
	// MarkVerified выставляет email_verified и is_verified.
	MarkVerified(ctx context.Context, email string, now time.Time) error
	// UpdateProfile применяет изменения профиля и возвращает обновлённую запись.
	UpdateProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate, now time.Time) (*models.Account, error)
}

// SessionStorage выполняет операции над сессиями.
type SessionStorage interface {
	// SaveSession добавляет сессию без удаления существующих.
	SaveSession(ctx context.Context, s *models.Session) error
	// ReplaceSessions атомарно удаляет все сессии пользователя и сохраняет новую.
	// Возвращает число удалённых сессий.
	ReplaceSessions(ctx context.Context, s *models.Session) (int64, error)
	// DeleteSessionsByUser удаляет все сессии пользователя.
	DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	// SessionByID ищет сессию по (id, user_id).
	SessionByID(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error)
	// TouchSession обновляет last_used_at.
	TouchSession(ctx context.Context, sessionID uuid.UUID, now time.Time) error
	// DeleteSession удаляет сессию по id; отсутствие сессии ошибкой не считается.
	DeleteSession(ctx context.Context, sessionID uuid.UUID) (bool, error)
	// DeleteSessionByRefreshHash удаляет сессию по хэшу refresh-токена.
	DeleteSessionByRefreshHash(ctx context.Context, hash string) (bool, error)
	// DeleteExpiredSessions удаляет сессии с expires_at <= now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Storage задаёт контракт работы с хранилищем.
type Storage interface {
	AccountStorage
	SessionStorage
	Close()
}
