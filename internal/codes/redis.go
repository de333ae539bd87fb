package codes

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/redis/go-redis/v9"
)

// Записи хранятся как Redis Hash с полями: hash, attempts, used (0/1),
// created, exp (unix ms). Время жизни ключа задаёт PEXPIRE.
// Окно cooldown - отдельный строковый ключ с TTL.

var incrAttemptsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

var markUsedScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'hash', 'used', 'attempts')
if not v[1] or v[1] ~= ARGV[1] then
	return 0
end
if v[2] == '1' then
	return 0
end
if tonumber(v[3] or '0') >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'used', '1')
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

var takeUsedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'used') == '1' then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// RedisStore - Store поверх Redis для нескольких инстансов сервиса.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore создаёт хранилище поверх готового клиента.
// Если prefix пустой - используется "exam:".
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "exam:"
	}

	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(purpose models.CodePurpose, email string) string {
	return s.prefix + "code:" + string(purpose) + ":" + email
}

func (s *RedisStore) cooldownKey(purpose models.CodePurpose, email string) string {
	return s.prefix + "cooldown:" + string(purpose) + ":" + email
}

func (s *RedisStore) Put(ctx context.Context, purpose models.CodePurpose, rec *models.VerificationCode, keep time.Duration) error {
	const op = "codes.RedisStore.Put"

	k := s.key(purpose, rec.Email)
	kv := map[string]string{
		"hash":     rec.CodeHash,
		"attempts": strconv.Itoa(rec.Attempts),
		"used":     boolTo01(rec.Used),
		"created":  strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
		"exp":      strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10),
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, kv)
	pipe.PExpire(ctx, k, keep)

	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(op, err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, purpose models.CodePurpose, email string) (*models.VerificationCode, error) {
	const op = "codes.RedisStore.Get"

	m, err := s.rdb.HGetAll(ctx, s.key(purpose, email)).Result()
	if err != nil {
		return nil, wrap(op, err)
	}

	if len(m) == 0 {
		return nil, ErrRecordNotFound
	}

	attempts, err := strconv.Atoi(m["attempts"])
	if err != nil {
		return nil, wrap(op, err)
	}

	created, err := strconv.ParseInt(m["created"], 10, 64)
	if err != nil {
		return nil, wrap(op, err)
	}

	exp, err := strconv.ParseInt(m["exp"], 10, 64)
	if err != nil {
		return nil, wrap(op, err)
	}

	return &models.VerificationCode{
		Email:     email,
		CodeHash:  m["hash"],
		Attempts:  attempts,
		Used:      m["used"] == "1",
		CreatedAt: time.UnixMilli(created).UTC(),
		ExpiresAt: time.UnixMilli(exp).UTC(),
	}, nil
}

func (s *RedisStore) Delete(ctx context.Context, purpose models.CodePurpose, email string) error {
	const op = "codes.RedisStore.Delete"

	if err := s.rdb.Del(ctx, s.key(purpose, email)).Err(); err != nil {
		return wrap(op, err)
	}

	return nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, purpose models.CodePurpose, email string) (int, error) {
	const op = "codes.RedisStore.IncrementAttempts"

	n, err := incrAttemptsScript.Run(ctx, s.rdb, []string{s.key(purpose, email)}).Int()
	if err != nil {
		return 0, wrap(op, err)
	}

	if n < 0 {
		return 0, ErrRecordNotFound
	}

	return n, nil
}

func (s *RedisStore) MarkUsed(ctx context.Context, purpose models.CodePurpose, email, codeHash string, maxAttempts int, keep time.Duration) (bool, error) {
	const op = "codes.RedisStore.MarkUsed"

	n, err := markUsedScript.Run(ctx, s.rdb,
		[]string{s.key(purpose, email)},
		codeHash, maxAttempts, keep.Milliseconds(),
	).Int()
	if err != nil {
		return false, wrap(op, err)
	}

	return n == 1, nil
}

func (s *RedisStore) TakeUsed(ctx context.Context, purpose models.CodePurpose, email string) (bool, error) {
	const op = "codes.RedisStore.TakeUsed"

	n, err := takeUsedScript.Run(ctx, s.rdb, []string{s.key(purpose, email)}).Int()
	if err != nil {
		return false, wrap(op, err)
	}

	return n == 1, nil
}

func (s *RedisStore) AcquireCooldown(ctx context.Context, purpose models.CodePurpose, email string, d time.Duration) (time.Duration, bool, error) {
	const op = "codes.RedisStore.AcquireCooldown"

	k := s.cooldownKey(purpose, email)

	// Вторая итерация нужна, если ключ истёк между SETNX и PTTL.
	for i := 0; i < 2; i++ {
		ok, err := s.rdb.SetNX(ctx, k, "1", d).Result()
		if err != nil {
			return 0, false, wrap(op, err)
		}

		if ok {
			return 0, true, nil
		}

		left, err := s.rdb.PTTL(ctx, k).Result()
		if err != nil {
			return 0, false, wrap(op, err)
		}

		if left > 0 {
			return left, false, nil
		}
	}

	return 0, false, wrap(op, errors.New("cooldown key is unstable"))
}

func (s *RedisStore) SetCooldown(ctx context.Context, purpose models.CodePurpose, email string, d time.Duration) error {
	const op = "codes.RedisStore.SetCooldown"

	if err := s.rdb.Set(ctx, s.cooldownKey(purpose, email), "1", d).Err(); err != nil {
		return wrap(op, err)
	}

	return nil
}

func (s *RedisStore) ClearCooldown(ctx context.Context, purpose models.CodePurpose, email string) error {
	const op = "codes.RedisStore.ClearCooldown"

	if err := s.rdb.Del(ctx, s.cooldownKey(purpose, email)).Err(); err != nil {
		return wrap(op, err)
	}

	return nil
}

func boolTo01(b bool) string {
	if b {
		return "1"
	}

	return "0"
}

var _ Store = (*RedisStore)(nil)
