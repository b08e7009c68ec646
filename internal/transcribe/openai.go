package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/sergeyshmagin/audiopipe/internal/config"
)

// OpenAIBackend talks to a whisper-style batch transcription endpoint:
// multipart upload, {"text": ...} JSON back. 429 and transport errors are
// retried with increasing delay up to the configured attempt budget; any
// other non-2xx status is terminal.
type OpenAIBackend struct {
	cfg    *config.Config
	logger *logrus.Logger
	client *http.Client
}

type openAIResponse struct {
	Text string `json:"text"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIBackend returns a Backend for cfg's endpoint.
func NewOpenAIBackend(cfg *config.Config, logger *logrus.Logger) *OpenAIBackend {
	return &OpenAIBackend{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.RequestTimeout()},
	}
}

// Transcribe uploads audio once per attempt and returns the recognized
// text.
func (o *OpenAIBackend) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	attempts := 0
	operation := func() (string, error) {
		attempts++
		text, err := o.attempt(ctx, audio, language)
		if err == nil {
			return text, nil
		}
		if Retryable(err) {
			o.logger.Warnf("transcription attempt %d failed (retryable): %v", attempts, err)
			var rl *RateLimitedError
			if errors.As(err, &rl) && rl.RetryAfter > 0 {
				return "", backoff.RetryAfter(int(rl.RetryAfter.Seconds()))
			}
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.cfg.Backoff()

	maxTries := o.cfg.Transcriber.MaxAttempts
	if maxTries < 1 {
		maxTries = 1
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(maxTries)),
	)
}

func (o *OpenAIBackend) attempt(ctx context.Context, audio []byte, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", o.cfg.Transcriber.Model); err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", &TranscriptionError{Msg: err.Error()}
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}
	if _, err := fw.Write(audio); err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}
	if err := mw.Close(); err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.cfg.Transcriber.Endpoint, &body)
	if err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}
	if o.cfg.Transcriber.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.Transcriber.APIKey)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The caller is gone; retrying would be pointless.
			return "", &TranscriptionError{Msg: ctx.Err().Error()}
		}
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return "", &RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := readErrorMessage(resp.Body)
		return "", &TranscriptionError{Status: resp.StatusCode, Msg: msg}
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &TranscriptionError{Msg: fmt.Sprintf("decode response: %v", err)}
	}
	return out.Text, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "unreadable error body"
	}
	var body openAIErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return string(bytes.TrimSpace(raw))
}
