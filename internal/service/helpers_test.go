package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pribylovaa/exam-auth/internal/codes"
	"github.com/pribylovaa/exam-auth/internal/config"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/storage/memory"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// inbox запоминает последний код, отправленный на каждый адрес.
type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *inbox) DeliverCode(_ context.Context, purpose models.CodePurpose, to, _, code string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes == nil {
		b.codes = map[string]string{}
	}
	b.codes[string(purpose)+":"+to] = code
	return nil
}

func (b *inbox) code(purpose models.CodePurpose, to string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[string(purpose)+":"+to]
}

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:         "unit-secret",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   720 * time.Hour,
		SessionTTL:        24 * time.Hour,
		Issuer:            "exam-auth",
		Audience:          []string{"exam-web"},
		BcryptCost:        bcrypt.MinCost,
		ResetRequiresCode: true,
	}
}

type env struct {
	svc   *Service
	st    *memory.Storage
	clock *fakeClock
	inbox *inbox
}

// newEnv собирает сервис на хранилище в памяти и настоящем менеджере кодов.
func newEnv(t *testing.T, mutate ...func(*config.AuthConfig)) *env {
	t.Helper()

	cfg := testCfg()
	for _, m := range mutate {
		m(&cfg)
	}

	clk := newFakeClock()
	st := memory.New()
	box := &inbox{}
	cm := codes.NewManager(codes.NewMemoryStore(clk.Now), box, codes.Config{
		OTP:          codes.Policy{TTL: 5 * time.Minute, Cooldown: 30 * time.Second},
		Verification: codes.Policy{TTL: 10 * time.Minute, Cooldown: 60 * time.Second},
		MaxAttempts:  3,
		Grace:        60 * time.Second,
		HashCost:     bcrypt.MinCost,
	}, codes.WithClock(clk.Now))

	svc := New(st, cm, cfg, WithClock(clk.Now))
	t.Cleanup(svc.Wait)

	return &env{svc: svc, st: st, clock: clk, inbox: box}
}

func bob() SignupInput {
	return SignupInput{
		Name:     "Bob",
		Email:    "a@x.com",
		Username: "bob",
		Phone:    "111",
		Password: "secret1",
	}
}

func (e *env) signup(t *testing.T, in SignupInput) *AuthResult {
	t.Helper()
	res, err := e.svc.Signup(context.Background(), in, ClientInfo{UserAgent: "test", IP: "127.0.0.1"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	e.svc.Wait()
	return res
}
