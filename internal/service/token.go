package service

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/models"
)

type tokenClaims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email"`
	SessionID string `json:"sid,omitempty"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// IssueAccess выпускает access-токен, привязанный к сессии.
func (s *Service) IssueAccess(userID uuid.UUID, email string, sessionID uuid.UUID) (string, time.Time, error) {
	return s.issueToken(models.TokenTypeAccess, userID, email, sessionID, s.cfg.AccessTokenTTL)
}

// IssueRefresh выпускает refresh-токен, привязанный к сессии.
func (s *Service) IssueRefresh(userID uuid.UUID, email string, sessionID uuid.UUID) (string, time.Time, error) {
	return s.issueToken(models.TokenTypeRefresh, userID, email, sessionID, s.cfg.RefreshTokenTTL)
}

func (s *Service) issueToken(typ string, userID uuid.UUID, email string, sessionID uuid.UUID, ttl time.Duration) (string, time.Time, error) {
	const op = "service.token.issueToken"

	now := s.now()
	exp := now.Add(ttl)

	claims := tokenClaims{
		UserID:    userID.String(),
		Email:     email,
		SessionID: sessionID.String(),
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, exp, nil
}

// VerifyToken проверяет подпись, срок действия и тип токена.
// wantType == "" принимает любой тип. Токен без идентификатора сессии
// отклоняется с ErrMissingSessionBinding.
func (s *Service) VerifyToken(tokenStr, wantType string) (*models.TokenClaims, error) {
	const op = "service.token.VerifyToken"

	token, err := jwt.ParseWithClaims(tokenStr, &tokenClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if wantType != "" && claims.Type != wantType {
		return nil, fmt.Errorf("%s: %w", op, ErrWrongTokenType)
	}

	if claims.SessionID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSessionBinding)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	out := &models.TokenClaims{
		UserID:    uid,
		Email:     claims.Email,
		SessionID: sid,
		Type:      claims.Type,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}

	return out, nil
}

// hashToken - sha256(token) в base64url; в хранилище попадает только хэш.
func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
