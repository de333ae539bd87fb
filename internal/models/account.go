package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли учётных записей. Права проверяются только по этому полю.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// Account - учётная запись пользователя.
//
// Email и Username хранятся в нижнем регистре и уникальны без учёта регистра,
// Phone уникален как есть.
type Account struct {
	ID            uuid.UUID
	Name          string
	Email         string
	Username      string
	Phone         string
	PasswordHash  string
	Role          string
	EmailVerified bool
	IsVerified    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsAdmin сообщает, есть ли у учётной записи административные права.
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// ProfileUpdate - изменяемые пользователем поля профиля.
// nil означает «не менять».
type ProfileUpdate struct {
	Name     *string
	Username *string
	Phone    *string
}
