// Package server exposes the pipeline over HTTP for machine callers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sergeyshmagin/audiopipe/internal/config"
	"github.com/sergeyshmagin/audiopipe/internal/pipeline"
)

// Runner is the slice of the pipeline the server needs.
type Runner interface {
	Run(ctx context.Context, raw []byte, opts pipeline.Options) pipeline.Outcome
	RunURL(ctx context.Context, url string, opts pipeline.Options) pipeline.Outcome
}

// Server serves transcription requests plus health and metrics endpoints.
type Server struct {
	cfg    *config.Config
	logger *logrus.Logger
	runner Runner
	http   *http.Server
}

// New builds a Server. The registry must be the one the pipeline's
// metrics were registered on, so /metrics reflects its counters.
func New(cfg *config.Config, logger *logrus.Logger, runner Runner, reg *prometheus.Registry) *Server {
	s := &Server{cfg: cfg, logger: logger, runner: runner}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec * float64(time.Second)),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec * float64(time.Second)),
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routing handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("http server listening on %s", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type urlRequest struct {
	URL      string `json:"url"`
	Language string `json:"language,omitempty"`
}

// handleTranscribe accepts either a multipart upload (field "file") or a
// JSON body naming a direct audio URL.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	opts := pipeline.Options{
		Language:          r.URL.Query().Get("language"),
		NormalizeLoudness: r.URL.Query().Get("normalize") == "true",
		TrimSilence:       r.URL.Query().Get("trim_silence") == "true",
	}

	var outcome pipeline.Outcome
	switch {
	case isMultipart(r):
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
		file, _, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "missing or oversized file field")
			return
		}
		defer file.Close()
		raw, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "read upload: "+err.Error())
			return
		}
		outcome = s.runner.Run(r.Context(), raw, opts)
	default:
		var req urlRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil || req.URL == "" {
			httpError(w, http.StatusBadRequest, "expected multipart upload or JSON body with url")
			return
		}
		if req.Language != "" {
			opts.Language = req.Language
		}
		outcome = s.runner.RunURL(r.Context(), req.URL, opts)
	}

	status := http.StatusOK
	if !outcome.Success {
		status = statusForReason(outcome.Reason)
	}
	writeJSON(w, status, outcome)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func statusForReason(reason string) int {
	switch reason {
	case pipeline.ReasonUnsupported, pipeline.ReasonTooLarge, pipeline.ReasonFetchFailed:
		return http.StatusUnprocessableEntity
	case pipeline.ReasonRateLimited:
		return http.StatusTooManyRequests
	case pipeline.ReasonCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Too late to change the status; nothing useful to do.
		_ = err
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
