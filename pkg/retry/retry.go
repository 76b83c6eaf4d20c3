package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/c360/lookupkit/errors"
)

// NonRetryableError stops Do at the attempt that returned it.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err as final. A nil err stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err, or an error it wraps, was marked with
// NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return stderrors.As(err, &nre)
}

// Config describes an exponential backoff.
type Config struct {
	// MaxAttempts counts the first call; zero or less means one attempt.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier grows the delay after every attempt. Values above 1000
	// are clamped.
	Multiplier float64
	// AddJitter lengthens each pause by up to a quarter.
	AddJitter bool

	// Retryable filters the errors worth another attempt. Nil retries
	// everything not marked NonRetryable.
	Retryable func(error) bool
}

// DefaultConfig is three attempts starting at 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		AddJitter:    true,
	}
}

// Quick keeps trying for a few seconds, for dialing at startup.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Fetch wraps one remote read of a provider. Only transient failures are
// retried, so a missing key or an unsupported operation surfaces at once.
func Fetch() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2,
		AddJitter:    true,
		Retryable:    errors.IsTransient,
	}
}

// withDefaults fills zero fields and rejects inconsistent ones.
func (cfg Config) withDefaults() (Config, error) {
	switch {
	case cfg.InitialDelay < 0:
		return cfg, stderrors.New("retry: InitialDelay cannot be negative")
	case cfg.MaxDelay < 0:
		return cfg, stderrors.New("retry: MaxDelay cannot be negative")
	case cfg.Multiplier < 0:
		return cfg, stderrors.New("retry: Multiplier cannot be negative")
	}

	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	cfg.Multiplier = min(cfg.Multiplier, 1000)
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, stderrors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return cfg, nil
}

func (cfg Config) retryable(err error) bool {
	if IsNonRetryable(err) {
		return false
	}
	return cfg.Retryable == nil || cfg.Retryable(err)
}

// grow returns the delay after d, capped at MaxDelay.
func (cfg Config) grow(d time.Duration) time.Duration {
	next := float64(d) * cfg.Multiplier
	if next >= float64(cfg.MaxDelay) || next >= math.MaxInt64 {
		return cfg.MaxDelay
	}
	return time.Duration(next)
}

func (cfg Config) pause(d time.Duration) time.Duration {
	if !cfg.AddJitter || d < 4 {
		return d
	}
	return d + rand.N(d/4)
}

// Do calls fn until it succeeds, returns an error that is not retryable, or
// MaxAttempts is used up. A non-retryable error is returned as is.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return err
	}

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			return nil
		case !cfg.retryable(err):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		case attempt >= cfg.MaxAttempts:
			return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, err)
		}

		timer := time.NewTimer(cfg.pause(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
		delay = cfg.grow(delay)
	}
}

// DoWithResult is Do for functions that produce a value. The value of the
// last attempt is returned.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() (err error) {
		result, err = fn()
		return err
	})
	return result, err
}
