package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/codes"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/service"
)

// AuthService - операции сервиса, доступные HTTP-слою (реализация - service.Service).
type AuthService interface {
	Signup(ctx context.Context, in service.SignupInput, client service.ClientInfo) (*service.AuthResult, error)
	Login(ctx context.Context, identifier, password string, client service.ClientInfo) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string)
	ResetPassword(ctx context.Context, email, password string) error
	SendCode(ctx context.Context, purpose models.CodePurpose, email, name string) (*codes.Pending, error)
	VerifyCode(ctx context.Context, purpose models.CodePurpose, email, code string) error
	Profile(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, upd models.ProfileUpdate) (*models.Account, error)
	ForceLogout(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Handlers агрегирует зависимости хендлеров.
type Handlers struct {
	svc AuthService
}

func New(svc AuthService) *Handlers {
	return &Handlers{svc: svc}
}

var errBadBody error = &service.ValidationError{Msg: "Invalid request body"}

// writeJSON - единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict - строгий JSON-декодер: запрещаем неизвестные поля.
// Пустое тело допустимо только при allowEmpty.
func decodeStrict(r *http.Request, value any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()

	if err := dec.Decode(value); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return errBadBody
	}

	return nil
}

func clientInfo(r *http.Request) service.ClientInfo {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	return service.ClientInfo{UserAgent: r.UserAgent(), IP: ip}
}
