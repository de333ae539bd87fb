package handlers

import (
	"time"

	"github.com/pribylovaa/exam-auth/internal/models"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// loginRequest принимает identifier либо раздельные email/username
// (так их присылают старые клиенты).
type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (r loginRequest) identifier() string {
	switch {
	case r.Identifier != "":
		return r.Identifier
	case r.Email != "":
		return r.Email
	default:
		return r.Username
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sendCodeRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// verifyCodeRequest: OTP приходит в поле otp, код подтверждения e-mail - в code.
type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	OTP   string `json:"otp"`
}

func (r verifyCodeRequest) code() string {
	if r.Code != "" {
		return r.Code
	}
	return r.OTP
}

type updateProfileRequest struct {
	Name     *string `json:"name"`
	Username *string `json:"username"`
	Phone    *string `json:"phone"`
}

type userDTO struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func toUserDTO(a *models.Account) userDTO {
	return userDTO{
		ID:            a.ID.String(),
		Email:         a.Email,
		Username:      a.Username,
		Name:          a.Name,
		Phone:         a.Phone,
		Role:          a.Role,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
	}
}

type sessionDTO struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type authResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	User    userDTO    `json:"user"`
	Session sessionDTO `json:"session"`
}

type refreshResponse struct {
	Success     bool      `json:"success"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type codeSentResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type userResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	User    userDTO `json:"user"`
}

type revokeResponse struct {
	Success bool  `json:"success"`
	Revoked int64 `json:"revoked"`
}
