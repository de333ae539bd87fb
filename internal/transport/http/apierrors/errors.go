// apierrors стандартизирует ответы об ошибках HTTP-слоя.
// На вход принимает ошибку сервиса, на выход даёт HTTP-статус и тело
// {success:false, error, code, ...} с безопасным сообщением для клиента.
// Ошибки хранилища и прочие неизвестные ошибки становятся 500 без деталей;
// детали остаются только в логе сервера.
package apierrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pribylovaa/exam-auth/internal/codes"
	"github.com/pribylovaa/exam-auth/internal/pkg/log"
	"github.com/pribylovaa/exam-auth/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// RateLimitError - клиент превысил лимит запросов.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry in %s", e.RetryAfter)
}

// ErrorResponse - единый формат ошибки для фронта.
// Code - короткий стабильный код для машинной обработки,
// Error - человекочитаемое сообщение.
type ErrorResponse struct {
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	Code              string `json:"code"`
	RequestID         string `json:"request_id,omitempty"`
	SecondsRemaining  int    `json:"seconds_remaining,omitempty"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
}

// ToHTTP конвертирует ошибку в HTTP-статус и тело ответа.
// err == nil - программная ошибка вызова: отвечаем 500, чтобы не маскировать баг.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return internal()
	}

	var (
		verr     *service.ValidationError
		cooldown *codes.CooldownError
		invalid  *codes.InvalidCodeError
		limited  *RateLimitError
	)

	switch {
	case errors.As(err, &verr):
		return resp(http.StatusBadRequest, "validation_failed", verr.Msg)

	case errors.Is(err, service.ErrEmailTaken):
		return resp(http.StatusConflict, "email_taken", "Email already registered")
	case errors.Is(err, service.ErrUsernameTaken):
		return resp(http.StatusConflict, "username_taken", "Username already taken")
	case errors.Is(err, service.ErrPhoneTaken):
		return resp(http.StatusConflict, "phone_taken", "Phone number already registered")

	case errors.Is(err, service.ErrInvalidCredentials):
		return resp(http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
	case errors.Is(err, service.ErrMissingToken):
		return resp(http.StatusUnauthorized, "missing_token", "No token provided")
	case errors.Is(err, service.ErrWrongTokenType):
		return resp(http.StatusUnauthorized, "wrong_token_type", "Invalid token type")
	case errors.Is(err, service.ErrMissingSessionBinding):
		return resp(http.StatusUnauthorized, "missing_session", "Invalid token: missing session ID")
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrTokenExpired):
		return resp(http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
	case errors.Is(err, service.ErrSessionInvalid):
		return resp(http.StatusUnauthorized, "session_invalid",
			"Session invalid. You may have logged in from another device.")
	case errors.Is(err, service.ErrSessionExpired):
		return resp(http.StatusUnauthorized, "session_expired", "Session expired. Please login again.")

	case errors.Is(err, service.ErrForbidden):
		return resp(http.StatusForbidden, "forbidden", "Access denied")
	case errors.Is(err, service.ErrResetNotAuthorized):
		return resp(http.StatusForbidden, "reset_not_authorized",
			"Verify the OTP sent to your email before resetting the password.")

	case errors.Is(err, service.ErrUserNotFound):
		return resp(http.StatusNotFound, "user_not_found", "User not found")
	case errors.Is(err, service.ErrEmailAlreadyVerified):
		return resp(http.StatusBadRequest, "already_verified", "Email already verified")

	case errors.As(err, &cooldown):
		status, out := resp(http.StatusTooManyRequests, "cooldown",
			fmt.Sprintf("Wait %ds before requesting another code.", cooldown.Seconds()))
		out.SecondsRemaining = cooldown.Seconds()
		return status, out
	case errors.As(err, &invalid):
		status, out := resp(http.StatusBadRequest, "invalid_code",
			fmt.Sprintf("Invalid code. %d attempts remaining.", invalid.Remaining))
		remaining := invalid.Remaining
		out.AttemptsRemaining = &remaining
		return status, out
	case errors.Is(err, codes.ErrCodeNotFound):
		return resp(http.StatusNotFound, "code_not_found", "No code found for that email.")
	case errors.Is(err, codes.ErrCodeUsed):
		return resp(http.StatusBadRequest, "code_used", "Code already used.")
	case errors.Is(err, codes.ErrCodeExpired):
		return resp(http.StatusBadRequest, "code_expired", "Code expired.")
	case errors.Is(err, codes.ErrTooManyAttempts):
		return resp(http.StatusTooManyRequests, "too_many_attempts",
			"Too many failed attempts. Please request a new code.")

	case errors.As(err, &limited):
		status, out := resp(http.StatusTooManyRequests, "rate_limited",
			"Too many requests. Please try again later.")
		out.SecondsRemaining = ceilSeconds(limited.RetryAfter)
		return status, out

	case errors.Is(err, context.DeadlineExceeded):
		return resp(http.StatusGatewayTimeout, "deadline_exceeded", "Request timed out")
	case errors.Is(err, context.Canceled):
		return resp(StatusClientClosedRequest, "canceled", "Request canceled")

	default:
		return internal()
	}
}

// WriteError - хелпер для HTTP-хендлеров.
// Пишет статус и тело, добавляет request_id из заголовка, если он есть.
// Ошибки 5xx логируются с полным текстом.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, out := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		out.RequestID = rid
	}

	if status >= http.StatusInternalServerError {
		msg := "<nil>"
		if err != nil {
			msg = err.Error()
		}

		log.From(r.Context()).Error("request_failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("err", msg),
		)
	}

	if out.SecondsRemaining > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(out.SecondsRemaining))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func resp(status int, code, msg string) (int, ErrorResponse) {
	return status, ErrorResponse{Success: false, Error: msg, Code: code}
}

func internal() (int, ErrorResponse) {
	return resp(http.StatusInternalServerError, "internal", "Internal server error")
}

func ceilSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}

	return s
}
