package interpreter

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/skookum/geocascade/internal/observability"
)

// Client is the production Interpreter backed by the Anthropic API.
// All regions share one Client, so the token bucket and concurrency
// semaphore bound the whole run's call rate.
type Client struct {
	api     *anthropic.Client
	cfg     Config
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	metrics *observability.Metrics // optional
	clock   clockwork.Clock
	logger  *slog.Logger
}

// NewClient creates an interpreter client. The API key falls back to
// the ANTHROPIC_API_KEY environment variable. metrics may be nil.
func NewClient(cfg Config, metrics *observability.Metrics, clock clockwork.Clock, logger *slog.Logger) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxRetries == 0 {
		def := DefaultConfig()
		def.APIKey = cfg.APIKey
		def.Model = cfg.Model
		cfg = def
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := anthropic.NewClient(option.WithAPIKey(apiKey))

	var sem *semaphore.Weighted
	if cfg.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.CallsPerMinute/60), 1)

	return &Client{
		api:     &api,
		cfg:     cfg,
		breaker: NewCircuitBreaker(clock, cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout, logger),
		sem:     sem,
		limiter: limiter,
		metrics: metrics,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Interpret sends one prompt+image request, waiting on the shared rate
// budget and concurrency cap first. Transient failures are retried with
// capped exponential backoff inside retryWithBackoff.
func (c *Client) Interpret(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting on interpreter rate budget: %w", err)
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("acquiring interpreter slot: %w", err)
		}
		defer c.sem.Release(1)
	}

	blocks := []anthropic.ContentBlockParamUnion{
		anthropic.NewTextBlock(req.Prompt),
	}
	if len(req.ImageData) > 0 {
		mediaType := req.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		encoded := base64.StdEncoding.EncodeToString(req.ImageData)
		blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, encoded))
	}

	start := c.clock.Now()
	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, "interpret", func(attemptCtx context.Context) error {
		resp, apiErr := c.api.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.cfg.Model),
			MaxTokens: 4096,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(blocks...),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	c.recordCall(req.Stage, c.clock.Since(start), err)
	if err != nil {
		return "", err
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// recordCall instruments one Interpret round trip.
func (c *Client) recordCall(stage string, elapsed time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.InterpreterCalls.WithLabelValues(stage, outcome).Inc()
	c.metrics.InterpreterDuration.Observe(elapsed.Seconds())
}
