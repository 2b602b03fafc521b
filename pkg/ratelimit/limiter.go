package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - token bucket перед каждым HTTP вызовом к бирже
//
// Ведро наполняется со скоростью rate токенов/сек до burst,
// каждая попытка запроса (включая повторы) забирает один токен.
//
//	limiter := NewRateLimiter(20, 5)
//	if err := limiter.Wait(ctx); err != nil { ... }
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter создает limiter. rate <= 0 означает отсутствие ограничения.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Unlimited - limiter без ограничений
func (rl *RateLimiter) Unlimited() bool {
	return rl == nil || rl.rate <= 0
}

// refill пополняет токены; вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// reserve забирает токен или возвращает время ожидания
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.Unlimited() {
		return ctx.Err()
	}

	for {
		wait := rl.reserve()
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен без блокировки
func (rl *RateLimiter) Allow() bool {
	if rl.Unlimited() {
		return true
	}
	return rl.reserve() == 0
}

// Tokens возвращает текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}
