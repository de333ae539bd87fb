package codes

import (
	"context"
	"sync"
	"time"

	"github.com/pribylovaa/exam-auth/internal/models"
)

type memKey struct {
	purpose models.CodePurpose
	email   string
}

type memEntry struct {
	rec   models.VerificationCode
	timer *time.Timer
}

// MemoryStore - Store в памяти процесса. Не переживает рестарт и не
// разделяется между инстансами; для нескольких инстансов есть RedisStore.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[memKey]*memEntry
	cooldowns map[memKey]time.Time
	now       func() time.Time
}

// NewMemoryStore создаёт хранилище; now используется для окон cooldown.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}

	return &MemoryStore{
		records:   make(map[memKey]*memEntry),
		cooldowns: make(map[memKey]time.Time),
		now:       now,
	}
}

func (s *MemoryStore) Put(_ context.Context, purpose models.CodePurpose, rec *models.VerificationCode, keep time.Duration) error {
	k := memKey{purpose, rec.Email}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropLocked(k)
	e := &memEntry{rec: *rec}
	s.records[k] = e
	s.scheduleLocked(k, e, keep)

	return nil
}

func (s *MemoryStore) Get(_ context.Context, purpose models.CodePurpose, email string) (*models.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[memKey{purpose, email}]
	if !ok {
		return nil, ErrRecordNotFound
	}

	rec := e.rec
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, purpose models.CodePurpose, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropLocked(memKey{purpose, email})

	return nil
}

func (s *MemoryStore) IncrementAttempts(_ context.Context, purpose models.CodePurpose, email string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[memKey{purpose, email}]
	if !ok {
		return 0, ErrRecordNotFound
	}

	e.rec.Attempts++

	return e.rec.Attempts, nil
}

func (s *MemoryStore) MarkUsed(_ context.Context, purpose models.CodePurpose, email, codeHash string, maxAttempts int, keep time.Duration) (bool, error) {
	k := memKey{purpose, email}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[k]
	if !ok || e.rec.Used || e.rec.CodeHash != codeHash || e.rec.Attempts >= maxAttempts {
		return false, nil
	}

	e.rec.Used = true
	s.scheduleLocked(k, e, keep)

	return true, nil
}

func (s *MemoryStore) TakeUsed(_ context.Context, purpose models.CodePurpose, email string) (bool, error) {
	k := memKey{purpose, email}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[k]
	if !ok || !e.rec.Used {
		return false, nil
	}

	s.dropLocked(k)

	return true, nil
}

func (s *MemoryStore) AcquireCooldown(_ context.Context, purpose models.CodePurpose, email string, d time.Duration) (time.Duration, bool, error) {
	k := memKey{purpose, email}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.cooldowns[k]; ok && now.Before(until) {
		return until.Sub(now), false, nil
	}

	s.cooldowns[k] = now.Add(d)

	return 0, true, nil
}

func (s *MemoryStore) SetCooldown(_ context.Context, purpose models.CodePurpose, email string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cooldowns[memKey{purpose, email}] = s.now().Add(d)

	return nil
}

func (s *MemoryStore) ClearCooldown(_ context.Context, purpose models.CodePurpose, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cooldowns, memKey{purpose, email})

	return nil
}

// Sweep удаляет истёкшие окна cooldown. Записи кодов удаляются своими таймерами.
func (s *MemoryStore) Sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, until := range s.cooldowns {
		if !now.Before(until) {
			delete(s.cooldowns, k)
		}
	}
}

// scheduleLocked (пере)запускает удаление записи e через d.
// Таймер удаляет запись, только если по ключу лежит всё та же e.
func (s *MemoryStore) scheduleLocked(k memKey, e *memEntry, d time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}

	if d <= 0 {
		return
	}

	e.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if cur, ok := s.records[k]; ok && cur == e {
			delete(s.records, k)
		}
	})
}

func (s *MemoryStore) dropLocked(k memKey) {
	if e, ok := s.records[k]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.records, k)
	}
}

var _ Store = (*MemoryStore)(nil)
