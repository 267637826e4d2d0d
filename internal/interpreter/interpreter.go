// Package interpreter wraps the external image-interpretation service:
// prompt construction per analysis tier, rate-limited invocation with
// retry and circuit breaking, and a retained audit record for every
// exchange.
package interpreter

import (
	"context"
	"errors"
	"time"
)

// Request is one interpretation job: an instruction and the raster
// image it applies to.
type Request struct {
	Prompt    string
	ImageData []byte // rendered raster, base64-encoded at the wire
	MediaType string // "image/png", "image/jpeg"
	Stage     string // tier name or "leverage"; labels call metrics
}

// Interpreter is the image-interpretation collaborator. Implementations
// must treat the reply as free-form text; structure is negotiated by
// prompt, never guaranteed.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (string, error)
}

// Recorder retains one audit entry per interpreter invocation. The
// compliance validator requires every invocation to leave a record
// behind, including failed ones.
type Recorder interface {
	RecordExchange(ctx context.Context, regionID, areaID, stage, prompt, response string) (promptID string, err error)
}

// ErrTransient marks failures worth retrying: rate limits, timeouts,
// and server-side errors. Permanent failures (auth, malformed request)
// are returned unwrapped and surface as warnings without retry.
var ErrTransient = errors.New("transient interpreter error")

// Config holds interpreter client configuration.
type Config struct {
	APIKey string // if empty, read from ANTHROPIC_API_KEY
	Model  string

	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Timeout           time.Duration

	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration

	// MaxConcurrentCalls bounds in-flight interpreter calls across all
	// regions. CallsPerMinute is the shared token-bucket budget.
	MaxConcurrentCalls int
	CallsPerMinute     float64
}

// DefaultConfig returns the default interpreter configuration.
func DefaultConfig() Config {
	return Config{
		Model:              "claude-sonnet-4-5-20250929",
		MaxRetries:         3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
		Timeout:            120 * time.Second,
		FailureThreshold:   5,
		SuccessThreshold:   2,
		OpenTimeout:        30 * time.Second,
		MaxConcurrentCalls: 3,
		CallsPerMinute:     30,
	}
}
