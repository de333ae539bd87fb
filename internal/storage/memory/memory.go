// memory - реализация storage.Storage в памяти процесса.
// Используется в тестах и при db.driver=memory (один инстанс, без БД).
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/storage"
)

// Storage хранит учётные записи и сессии под одним мьютексом.
type Storage struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*models.Account
	sessions map[uuid.UUID]*models.Session
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		accounts: make(map[uuid.UUID]*models.Account),
		sessions: make(map[uuid.UUID]*models.Session),
	}
}

// Close ничего не делает.
func (s *Storage) Close() {}

// SaveAccount создаёт учётную запись, проверяя уникальность email/username/phone.
func (s *Storage) SaveAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.memory.SaveAccount"

	if err := ctx.Err(); err != nil {
		return wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return wrap(op, storage.ErrAlreadyExists)
	}

	if err := s.checkUniqueLocked(acc.ID, acc.Email, acc.Username, acc.Phone); err != nil {
		return wrap(op, err)
	}

	cp := *acc
	s.accounts[acc.ID] = &cp

	return nil
}

func (s *Storage) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.findAccount(ctx, "storage.memory.AccountByEmail", func(a *models.Account) bool {
		return strings.EqualFold(a.Email, email)
	})
}

func (s *Storage) AccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.findAccount(ctx, "storage.memory.AccountByUsername", func(a *models.Account) bool {
		return strings.EqualFold(a.Username, username)
	})
}

func (s *Storage) AccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	return s.findAccount(ctx, "storage.memory.AccountByPhone", func(a *models.Account) bool {
		return a.Phone == phone
	})
}

func (s *Storage) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	const op = "storage.memory.AccountByID"

	if err := ctx.Err(); err != nil {
		return nil, wrap(op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, wrap(op, storage.ErrNotFound)
	}

	cp := *acc
	return &cp, nil
}

func (s *Storage) UpdatePasswordHash(ctx context.Context, email, hash string, now time.Time) error {
	return s.mutateByEmail(ctx, "storage.memory.UpdatePasswordHash", email, func(a *models.Account) {
		a.PasswordHash = hash
		a.UpdatedAt = now
	})
}

func (s *Storage) MarkVerified(ctx context.Context, email string, now time.Time) error {
	return s.mutateByEmail(ctx, "storage.memory.MarkVerified", email, func(a *models.Account) {
		a.EmailVerified = true
		a.IsVerified = true
		a.UpdatedAt = now
	})
}

func (s *Storage) UpdateProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate, now time.Time) (*models.Account, error) {
	const op = "storage.memory.UpdateProfile"

	if err := ctx.Err(); err != nil {
		return nil, wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, wrap(op, storage.ErrNotFound)
	}

	next := *acc
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.Username != nil {
		next.Username = *upd.Username
	}
	if upd.Phone != nil {
		next.Phone = *upd.Phone
	}

	if err := s.checkUniqueLocked(id, next.Email, next.Username, next.Phone); err != nil {
		return nil, wrap(op, err)
	}

	next.UpdatedAt = now
	s.accounts[id] = &next

	cp := next
	return &cp, nil
}

func (s *Storage) findAccount(ctx context.Context, op string, match func(*models.Account) bool) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap(op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if match(a) {
			cp := *a
			return &cp, nil
		}
	}

	return nil, wrap(op, storage.ErrNotFound)
}

func (s *Storage) mutateByEmail(ctx context.Context, op, email string, fn func(*models.Account)) error {
	if err := ctx.Err(); err != nil {
		return wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			fn(a)
			return nil
		}
	}

	return wrap(op, storage.ErrNotFound)
}

// checkUniqueLocked ищет конфликт среди остальных учётных записей. Вызывается под s.mu.
func (s *Storage) checkUniqueLocked(self uuid.UUID, email, username, phone string) error {
	for id, a := range s.accounts {
		if id == self {
			continue
		}

		switch {
		case strings.EqualFold(a.Email, email):
			return &storage.DuplicateError{Field: storage.FieldEmail}
		case strings.EqualFold(a.Username, username):
			return &storage.DuplicateError{Field: storage.FieldUsername}
		case a.Phone == phone:
			return &storage.DuplicateError{Field: storage.FieldPhone}
		}
	}

	return nil
}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)
