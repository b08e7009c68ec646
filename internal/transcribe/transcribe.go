// Package transcribe turns audio segments into text via a batch
// speech-to-text backend, with bounded retries and partial-failure
// aggregation.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend converts one audio payload into text. Expected failures come back
// as typed errors, never panics.
type Backend interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// TranscriptionError is a terminal per-call failure (a non-retryable HTTP
// status or malformed response).
type TranscriptionError struct {
	Status int
	Msg    string
}

func (e *TranscriptionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transcription failed: http %d: %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("transcription failed: %s", e.Msg)
}

// RateLimitedError is an HTTP 429; retryable up to the attempt budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string { return "transcription rate limited" }

// NetworkError wraps transport-level failures and timeouts; retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("transcription network error: %v", e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	var rl *RateLimitedError
	var ne *NetworkError
	return errors.As(err, &rl) || errors.As(err, &ne)
}

// Outcome records the result of transcribing one segment.
type Outcome struct {
	Index int
	Text  string
	Err   error
}

// Ok reports whether the segment produced text.
func (o Outcome) Ok() bool { return o.Err == nil }

// Failure is a serializable per-segment error summary.
type Failure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Transcript is the assembled batch result: ordered successful text plus
// per-segment failures. Success means at least one segment produced text.
type Transcript struct {
	Text      string    `json:"text"`
	Success   bool      `json:"success"`
	Succeeded int       `json:"succeeded"`
	Failures  []Failure `json:"failures,omitempty"`
}
