// Package retry runs connector calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/healthsync/connector-engine/pkg/apperrors"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, +/- jitter applied to every wait
	MaxSameErrorType int     // consecutive failures of one category before giving up early
}

// DefaultConfig returns defaults suited to connector calls:
// 3 retries starting at 100ms, capped at 5s, doubling, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// Backoff is the un-jittered wait before retry n, counting from zero.
func (c *Config) Backoff(n int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(n))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

func (c *Config) sleep(ctx context.Context, n int) error {
	d := c.Backoff(n)
	if c.JitterFactor > 0 {
		d += time.Duration(float64(d) * c.JitterFactor * (rand.Float64()*2 - 1))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it succeeds or MaxRetries retries have failed, retrying
// every error. Returns the last error, or ctx.Err() if the context ends while
// waiting.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var err error
	for n := 0; ; n++ {
		if err = fn(); err == nil {
			return nil
		}
		if n >= cfg.MaxRetries {
			return err
		}
		if waitErr := cfg.sleep(ctx, n); waitErr != nil {
			return waitErr
		}
	}
}

// RetryableError is implemented by errors that know whether they are transient.
// apperrors.ConnectivityError implements it.
type RetryableError interface {
	error
	IsRetryable() bool
}

// Driver and transport messages that indicate a transient failure when the
// error carries no classification of its own.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"network is unreachable",
	"server closed",
	"unexpected eof",
	"service unavailable",
	"too many requests",
}

// IsRetryable reports whether err is transient. Errors implementing
// RetryableError decide for themselves; context cancellation never retries;
// anything else is matched against known driver messages.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Category groups failures for the repeated-failure check. Connectivity
// errors use their own category.
func Category(err error) string {
	var ce *apperrors.ConnectivityError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return ce.Category
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return apperrors.CategoryTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"):
		return apperrors.CategoryUnreachable
	}
	return "other"
}

// DoIfRetryable calls fn, passing the 1-based attempt number, and retries only
// transient errors. Permanent errors return at once. Once MaxSameErrorType
// consecutive failures share a Category the loop stops early and the error is
// wrapped to say so.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func(attempt int) error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		lastCategory string
		streak       int
	)
	for n := 0; ; n++ {
		err := fn(n + 1)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		if c := Category(err); c == lastCategory {
			streak++
		} else {
			lastCategory, streak = c, 1
		}
		if cfg.MaxSameErrorType > 0 && streak >= cfg.MaxSameErrorType {
			return fmt.Errorf("giving up after %d consecutive %s failures: %w", streak, lastCategory, err)
		}

		if n >= cfg.MaxRetries {
			return err
		}
		if waitErr := cfg.sleep(ctx, n); waitErr != nil {
			return waitErr
		}
	}
}
