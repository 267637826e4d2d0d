package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CircuitState represents the state of the interpreter circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failing fast after repeated failures
	CircuitHalfOpen                     // probing for recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is rejecting
// calls.
var ErrCircuitOpen = errors.New("interpreter circuit breaker is open")

// CircuitBreaker keeps a run of interpreter failures from hammering a
// struggling service. State transitions follow the standard pattern:
// closed until failureThreshold consecutive failures, open for
// openTimeout, then half-open until successThreshold probes succeed.
type CircuitBreaker struct {
	mu sync.Mutex

	clock            clockwork.Clock
	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	logger           *slog.Logger
}

// NewCircuitBreaker creates a circuit breaker.
func NewCircuitBreaker(clock clockwork.Clock, failureThreshold, successThreshold int, openTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		clock:            clock,
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		logger:           logger,
	}
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.clock.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		return nil
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure notes a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.clock.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition moves to a new state. Caller must hold the lock.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	cb.successCount = 0
	cb.logger.Info("interpreter circuit breaker transition",
		"from", from.String(), "to", to.String(), "failures", cb.failureCount)
}

// retryWithBackoff runs fn with capped exponential backoff. Transient
// errors are retried; permanent errors return immediately.
func (c *Client) retryWithBackoff(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error
	backoff := c.cfg.InitialBackoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.breaker.Allow(); err != nil {
			return fmt.Errorf("%s blocked: %w", operation, err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			c.breaker.RecordSuccess()
			if attempt > 0 {
				c.logger.Info("interpreter call succeeded after retries",
					"operation", operation, "retries", attempt)
			}
			return nil
		}
		lastErr = err

		if !isRetriable(err) {
			c.logger.Warn("interpreter call failed with permanent error",
				"operation", operation, "error", err)
			return err
		}
		c.breaker.RecordFailure()

		if attempt == c.cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		}

		if c.metrics != nil {
			c.metrics.InterpreterRetries.Inc()
		}
		c.logger.Warn("interpreter call failed, backing off",
			"operation", operation,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)

		timer := c.clock.NewTimer(backoff)
		select {
		case <-timer.Chan():
			backoff = time.Duration(float64(backoff) * c.cfg.BackoffMultiplier)
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w (%v)",
		operation, c.cfg.MaxRetries+1, ErrTransient, lastErr)
}

// isRetriable classifies an error as transient. The SDK does not expose
// typed status errors uniformly, so classification falls back to the
// error string for HTTP status markers.
func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()

	// Rate limits and server errors.
	for _, marker := range []string{
		"429", "rate limit",
		"500", "502", "503", "504",
		"internal server error", "bad gateway",
		"service unavailable", "gateway timeout",
		"overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	// Network failures.
	for _, marker := range []string{
		"connection refused", "connection reset", "timeout",
		"temporary failure", "network",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	// Remaining 4xx client errors will not succeed on retry.
	return false
}
