package codes

import (
	"context"
	"errors"
	"time"

	"github.com/pribylovaa/exam-auth/internal/models"
)

// ErrRecordNotFound - в хранилище нет записи для e-mail.
var ErrRecordNotFound = errors.New("code record not found")

// Store - хранилище записей одноразовых кодов и окон cooldown.
//
// Для одного (purpose, email) хранится не более одной записи: Put перезаписывает
// предыдущую целиком. Счётчик попыток и флаг used меняются только атомарными
// операциями хранилища.
type Store interface {
	// Put сохраняет запись, заменяя существующую; keep - сколько хранить запись.
	Put(ctx context.Context, purpose models.CodePurpose, rec *models.VerificationCode, keep time.Duration) error
	// Get возвращает запись или ErrRecordNotFound.
	Get(ctx context.Context, purpose models.CodePurpose, email string) (*models.VerificationCode, error)
	// Delete удаляет запись; отсутствие записи ошибкой не считается.
	Delete(ctx context.Context, purpose models.CodePurpose, email string) error
	// IncrementAttempts увеличивает счётчик неудачных попыток и возвращает новое значение.
	IncrementAttempts(ctx context.Context, purpose models.CodePurpose, email string) (int, error)
	// MarkUsed атомарно выставляет used=true, если запись всё ещё содержит codeHash,
	// не использована и attempts < maxAttempts. После этого запись живёт ещё keep.
	MarkUsed(ctx context.Context, purpose models.CodePurpose, email, codeHash string, maxAttempts int, keep time.Duration) (bool, error)
	// TakeUsed атомарно удаляет запись, если она использована (подтверждена).
	TakeUsed(ctx context.Context, purpose models.CodePurpose, email string) (bool, error)
	// AcquireCooldown открывает окно cooldown длиной d, если оно не активно.
	// Иначе возвращает остаток текущего окна и false.
	AcquireCooldown(ctx context.Context, purpose models.CodePurpose, email string, d time.Duration) (time.Duration, bool, error)
	// SetCooldown безусловно открывает окно cooldown длиной d.
	SetCooldown(ctx context.Context, purpose models.CodePurpose, email string, d time.Duration) error
	// ClearCooldown закрывает окно cooldown.
	ClearCooldown(ctx context.Context, purpose models.CodePurpose, email string) error
}
