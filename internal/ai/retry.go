package ai

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// RetryConfig controls backoff for transient API failures.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the settings used in production.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		BackoffFactor:  2.0,
		AttemptTimeout: 5 * time.Minute,
	}
}

// CircuitState is the breaker's current mode.
type CircuitState int

const (
	// CircuitClosed: requests flow normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen: requests fail fast until the cooldown passes.
	CircuitOpen
	// CircuitHalfOpen: one probe request is allowed through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after consecutive failures so a dead API does
// not burn the retry budget of every call.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
}

// NewCircuitBreaker trips after threshold consecutive failures and
// probes again after cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.cooldown {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	}
	return true
}

// RecordSuccess closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
}

// RecordFailure counts a failure and may trip the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// retryWithBackoff runs fn with exponential backoff on retriable
// errors. Each attempt gets its own timeout so one hung request does
// not consume the whole budget.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, breaker *CircuitBreaker, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if breaker != nil && !breaker.Allow() {
			return fmt.Errorf("%s: circuit breaker open", op)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return nil
		}
		lastErr = err
		if breaker != nil {
			breaker.RecordFailure()
		}
		if !isRetriableError(err) || attempt == cfg.MaxAttempts {
			break
		}

		backoff := time.Duration(float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during backoff: %w", op, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%s failed after retries: %w", op, lastErr)
}

// isRetriableError matches transient API failures by message; the SDK
// does not expose a stable error taxonomy for all of them.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"overloaded",
		"rate limit",
		"rate_limit",
		"429",
		"529",
		"500",
		"502",
		"503",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"temporarily unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
