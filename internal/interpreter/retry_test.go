package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skookum/geocascade/internal/observability"
)

func testClient(clock clockwork.Clock) *Client {
	cfg := DefaultConfig()
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 80 * time.Millisecond
	return &Client{
		cfg:     cfg,
		breaker: NewCircuitBreaker(clock, cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout, slog.Default()),
		metrics: observability.NewMetricsForTesting(),
		clock:   clock,
		logger:  slog.Default(),
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(clock, 3, 2, 30*time.Second, nil)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(clock, 1, 2, 30*time.Second, nil)

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	// Before the open timeout the breaker still rejects.
	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	clock.Advance(2 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(clock, 1, 2, 30*time.Second, nil)

	cb.RecordFailure()
	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Allow())
	require.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(clock, 3, 1, 30*time.Second, nil)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := testClient(clock)

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- c.retryWithBackoff(context.Background(), "interpret", func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("429 too many requests")
			}
			return nil
		})
	}()

	// Two backoff sleeps: 10ms then 20ms.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Millisecond)
	clock.BlockUntil(1)
	clock.Advance(20 * time.Millisecond)

	require.NoError(t, <-done)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.InterpreterRetries))
}

func TestRecordCallCountsByStageAndOutcome(t *testing.T) {
	c := testClient(clockwork.NewFakeClock())

	c.recordCall("regional", 2*time.Second, nil)
	c.recordCall("regional", time.Second, errors.New("503 service unavailable"))
	c.recordCall("", time.Second, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.InterpreterCalls.WithLabelValues("regional", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.InterpreterCalls.WithLabelValues("regional", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.InterpreterCalls.WithLabelValues("unknown", "success")))
}

func TestRetryPermanentErrorReturnsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := testClient(clock)

	attempts := 0
	err := c.retryWithBackoff(context.Background(), "interpret", func(ctx context.Context) error {
		attempts++
		return errors.New("401 invalid api key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestRetryExhaustionWrapsTransient(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := testClient(clock)
	c.cfg.MaxRetries = 2

	var mu sync.Mutex
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- c.retryWithBackoff(context.Background(), "interpret", func(ctx context.Context) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return errors.New("503 service unavailable")
		})
	}()

	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestRetryCanceledDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := testClient(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.retryWithBackoff(ctx, "interpret", func(ctx context.Context) error {
			return errors.New("connection refused")
		})
	}()

	clock.BlockUntil(1)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		err       error
		retriable bool
	}{
		{nil, false},
		{errors.New("429 too many requests"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("500 internal server error"), true},
		{errors.New("502 bad gateway"), true},
		{errors.New("overloaded_error: the service is overloaded"), true},
		{errors.New("connection reset by peer"), true},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("wrapped: %w", ErrTransient), true},
		{errors.New("400 bad request"), false},
		{errors.New("401 unauthorized"), false},
		{errors.New("invalid model name"), false},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.retriable, isRetriable(tt.err))
		})
	}
}
