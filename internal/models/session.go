package models

import (
	"time"

	"github.com/google/uuid"
)

// Session - одно авторизованное устройство пользователя.
//
// У пользователя не более одной сессии: новый вход удаляет предыдущие.
// RefreshTokenHash - sha256(refresh-токена) в base64url; сам токен не хранится.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	RefreshTokenHash string
	UserAgent        string
	IPAddress        string
	CreatedAt        time.Time
	LastUsedAt       time.Time
	ExpiresAt        time.Time
}

// Expired сообщает, истекла ли сессия к моменту now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}
