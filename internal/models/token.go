package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы токенов (claim typ).
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenPair - пара токенов, выдаваемая при регистрации/входе.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// AccessExpiresAt - время истечения access-токена (UTC).
	AccessExpiresAt time.Time
}

// TokenClaims - проверенные утверждения токена без служебных полей JWT.
type TokenClaims struct {
	UserID    uuid.UUID
	Email     string
	SessionID uuid.UUID
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Principal - аутентифицированный субъект запроса (кладётся в контекст шлюзом).
type Principal struct {
	UserID    uuid.UUID
	Email     string
	SessionID uuid.UUID
}
