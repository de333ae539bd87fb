// ratelimit - ограничитель запросов по скользящему окну: не более Limit
// запросов одного клиента за последние Window.
package ratelimit

import (
	"context"
	"time"
)

// Result - решение лимитера по одному запросу.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter - через сколько освободится место в окне (для отказа).
	RetryAfter time.Duration
}

// Limiter учитывает запрос клиента key и решает, пропускать ли его.
// Отклонённые запросы в окне не учитываются.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
