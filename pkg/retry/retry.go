package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config contains retry configuration
type Config struct {
	// MaxRetries is the number of retries after the first attempt (0 = single attempt)
	MaxRetries int
	// InitialInterval is the wait before the first retry
	InitialInterval time.Duration
	// MaxInterval caps the backoff interval
	MaxInterval time.Duration
	// Multiplier grows the interval after each retry
	Multiplier float64
	// JitterFactor is the random +/- fraction applied to each interval
	JitterFactor float64
	// ShouldRetry decides whether an error is worth another attempt.
	// When nil every error that is not Permanent is retried.
	ShouldRetry func(err error) bool
}

// DefaultConfig returns default retry configuration (500ms, 1s, 2s, capped at 5s)
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// PermanentError wraps an error that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as permanent
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Result describes a finished retry loop
type Result struct {
	// Err is the error returned to the caller (nil on success)
	Err error
	// Attempts counts every call of the operation
	Attempts int
	// TotalDuration includes backoff waits
	TotalDuration time.Duration
}

// RetryCallback is called before each backoff wait
type RetryCallback func(attempt int, err error, nextInterval time.Duration)

// Retrier runs operations with exponential backoff
type Retrier struct {
	config *Config
}

// New creates a new Retrier, filling zero values with defaults
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}
	if cfg.JitterFactor > 1 {
		cfg.JitterFactor = 1
	}

	return &Retrier{config: &cfg}
}

// Do executes op, retrying errors accepted by ShouldRetry
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	return r.DoWithCallback(ctx, op, nil)
}

// DoWithCallback is Do with a hook invoked before every wait.
// The last operation error is returned as is, so callers can still
// inspect it with errors.As; exhausting retries does not hide it.
func (r *Retrier) DoWithCallback(ctx context.Context, op Operation, callback RetryCallback) *Result {
	start := time.Now()
	result := &Result{}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if result.Err == nil {
				result.Err = err
			}
			break
		}

		result.Attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			result.Err = nil
			break
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			result.Err = perm.Err
			break
		}
		result.Err = err

		if !r.retryable(err) || attempt >= r.config.MaxRetries {
			break
		}

		interval := r.calculateInterval(attempt)
		if callback != nil {
			callback(attempt+1, err, interval)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.TotalDuration = time.Since(start)
			return result
		case <-timer.C:
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

func (r *Retrier) retryable(err error) bool {
	if r.config.ShouldRetry == nil {
		return true
	}
	return r.config.ShouldRetry(err)
}

// calculateInterval returns initial * multiplier^attempt with jitter, capped at MaxInterval
func (r *Retrier) calculateInterval(attempt int) time.Duration {
	interval := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt))

	if r.config.JitterFactor > 0 {
		jitter := interval * r.config.JitterFactor
		interval = interval + (rand.Float64()*2-1)*jitter
	}

	if interval > float64(r.config.MaxInterval) {
		interval = float64(r.config.MaxInterval)
	}
	if interval < 0 {
		interval = float64(r.config.InitialInterval)
	}

	return time.Duration(interval)
}

// Do is a convenience function that creates a retrier and executes the operation
func Do(ctx context.Context, config *Config, op Operation) error {
	return New(config).Do(ctx, op).Err
}
