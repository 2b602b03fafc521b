package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Config конфигурация retry логики
//
// Экспоненциальный backoff с jitter:
// delay = InitialDelay * Multiplier^attempt * (1 ± JitterFactor), не больше MaxDelay
//
// attempt - номер повтора начиная с 0: при InitialDelay=100ms задержки
// 100ms, 200ms, 400ms (±25% при JitterFactor=0.25)
type Config struct {
	// MaxRetries - количество повторов ПОСЛЕ первой попытки.
	// Всего попыток = MaxRetries + 1. 0 = без повторов.
	MaxRetries int

	// InitialDelay - базовая задержка. По умолчанию: 100ms
	InitialDelay time.Duration

	// MaxDelay - потолок задержки. По умолчанию: 30s
	MaxDelay time.Duration

	// Multiplier - множитель роста. По умолчанию: 2.0
	Multiplier float64

	// JitterFactor - доля случайного отклонения (0.0 - 1.0)
	JitterFactor float64

	// RetryIf - нужно ли повторять ошибку. По умолчанию: IsRetryable
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием; attempt начинается с 1
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep ждет delay или отмены ctx. Подменяется в тестах.
	Sleep func(ctx context.Context, delay time.Duration) error

	// Rand возвращает число в [0, 1). Подменяется в тестах.
	Rand func() float64
}

// DefaultConfig - политика шлюза: 3 повтора, 100ms база, ±25% jitter
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.25,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
}

// calculateDelay вычисляет задержку перед повтором номер attempt (с 0)
func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (c.Rand()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// DelayBounds возвращает допустимый диапазон задержки для повтора attempt
func (c Config) DelayBounds(attempt int) (lo, hi time.Duration) {
	c.validate()
	base := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if base > float64(c.MaxDelay) {
		base = float64(c.MaxDelay)
	}
	return time.Duration(base * (1 - c.JitterFactor)), time.Duration(base * (1 + c.JitterFactor))
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do выполняет операцию с повторными попытками.
// Возвращает nil при успехе, иначе последнюю ошибку как есть.
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и retry
//
//	resp, err := retry.DoWithResult(ctx, func() (*response, error) {
//	    return g.send(ctx, req)
//	}, cfg)
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()

	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) || attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.calculateDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError интерфейс для ошибок, знающих о своей повторяемости
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет можно ли повторять ошибку.
// Ошибки контекста не повторяются; неизвестные ошибки повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// IsRetryableStatus - 429, 5xx и 0 (транспортная ошибка) повторяются
func IsRetryableStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// StatusError - неуспешный HTTP ответ
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("transport error: %s", e.Body)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

func (e *StatusError) Retryable() bool {
	return IsRetryableStatus(e.Code)
}

// ============================================================
// Wrapper errors
// ============================================================

// PermanentError оборачивает ошибку которую не нужно повторять
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError оборачивает ошибку которую нужно повторять
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string   { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Retryable() bool { return true }

// Temporary оборачивает ошибку в TemporaryError
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}
