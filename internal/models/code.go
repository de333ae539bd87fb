package models

import "time"

// CodePurpose - назначение одноразового кода.
type CodePurpose string

const (
	// PurposeOTP - код для подтверждения e-mail перед сбросом пароля.
	PurposeOTP CodePurpose = "otp"
	// PurposeVerification - код подтверждения владения e-mail.
	PurposeVerification CodePurpose = "verification"
)

// VerificationCode - запись одноразового кода для одного e-mail.
// Сам код не хранится, только его bcrypt-хэш.
type VerificationCode struct {
	Email     string
	CodeHash  string
	Attempts  int
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
}
