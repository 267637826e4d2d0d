// Package extract parses interpreter-service replies into typed
// discovery candidates, with layered fallbacks for malformed output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrMalformedResponse marks replies that defeated every parse
// strategy. Callers degrade to keyword fallback or a warning.
var ErrMalformedResponse = errors.New("malformed interpreter response")

// Interpreter replies frequently arrive wrapped in markdown fences or
// with minor JSON defects (trailing commas, comments, prose before the
// payload). The regexes below are pre-compiled; compiling per parse is
// an order of magnitude slower.
var (
	fenceRegex = regexp.MustCompile("(?s)`{3}(?:json)?\\s*\\n?([\\s\\S]*?)\\n?`{3}")

	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	lineCommentRegex   = regexp.MustCompile(`(?m)//.*$`)
	blockCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// Greedy on purpose: candidate payloads nest several levels deep.
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// ParseResult carries the outcome of a structured parse attempt. The
// zero Data value is returned on failure rather than panicking.
type ParseResult[T any] struct {
	OK    bool
	Data  T
	Error string
}

// Err converts a failed result into an error wrapping
// ErrMalformedResponse; a successful result yields nil.
func (r ParseResult[T]) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMalformedResponse, r.Error)
}

// Parse attempts to decode an interpreter reply as JSON, trying
// progressively more forgiving strategies:
//
//  1. direct decode
//  2. strip markdown code fences and retry
//  3. repair common JSON defects and retry
//  4. extract an embedded object or array from mixed prose and retry
//
// Callers that exhaust all four strategies fall back to keyword
// extraction (see Extractor.fallback).
func Parse[T any](text, context string) ParseResult[T] {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ParseResult[T]{Error: "empty interpreter reply"}
	}

	if data, err := decode[T](trimmed); err == nil {
		return ParseResult[T]{OK: true, Data: data}
	}

	unfenced := stripFences(trimmed)
	if unfenced != trimmed {
		if data, err := decode[T](unfenced); err == nil {
			return ParseResult[T]{OK: true, Data: data}
		}
	}

	repaired := repairJSON(unfenced)
	if data, err := decode[T](repaired); err == nil {
		return ParseResult[T]{OK: true, Data: data}
	}

	if embedded := extractEmbedded(repaired); embedded != "" {
		if data, err := decode[T](embedded); err == nil {
			return ParseResult[T]{OK: true, Data: data}
		}
	}

	slog.Debug("structured parse failed on all strategies",
		"context", context,
		"preview", preview(text, 120))
	return ParseResult[T]{Error: "reply is not parseable as structured JSON"}
}

func decode[T any](text string) (T, error) {
	var out T
	err := json.Unmarshal([]byte(text), &out)
	return out, err
}

// stripFences removes markdown code fences wherever they appear.
func stripFences(text string) string {
	cleaned := fenceRegex.ReplaceAllString(text, "$1")
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.Trim(cleaned, "`")
	}
	return strings.TrimSpace(cleaned)
}

// repairJSON fixes trailing commas and strips comments. Single quotes
// are left alone; repairing them would corrupt valid strings containing
// apostrophes.
func repairJSON(text string) string {
	cleaned := trailingCommaRegex.ReplaceAllString(text, "$1")
	cleaned = lineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = blockCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractEmbedded pulls the first JSON object or array out of mixed
// prose. The leading-character check keeps an array payload from being
// truncated to its first element.
func extractEmbedded(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if m := arrayRegex.FindString(trimmed); m != "" {
			return m
		}
	}
	if m := objectRegex.FindString(text); m != "" {
		return m
	}
	return arrayRegex.FindString(text)
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
