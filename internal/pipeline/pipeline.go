// Package pipeline wires sniffing, transcoding, segmentation and
// transcription into one stateless run with scoped temp-resource cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sergeyshmagin/audiopipe/internal/config"
	"github.com/sergeyshmagin/audiopipe/internal/fetch"
	"github.com/sergeyshmagin/audiopipe/internal/metrics"
	"github.com/sergeyshmagin/audiopipe/internal/segment"
	"github.com/sergeyshmagin/audiopipe/internal/sniff"
	"github.com/sergeyshmagin/audiopipe/internal/transcode"
	"github.com/sergeyshmagin/audiopipe/internal/transcribe"
)

// Failure reason categories surfaced to callers.
const (
	ReasonPartial         = "partial_failure"
	ReasonUnsupported     = "unsupported_format"
	ReasonNoTranscoder    = "transcoder_unavailable"
	ReasonSegmentation    = "segmentation_failed"
	ReasonRateLimited     = "rate_limited"
	ReasonServiceDown     = "service_unavailable"
	ReasonTooLarge        = "too_large"
	ReasonFetchFailed     = "fetch_failed"
	ReasonCancelled       = "cancelled"
	ReasonInternal        = "internal_error"
	ReasonAllSegmentsFail = "transcription_failed"
)

// Options are the per-run knobs. The post-processing toggles are
// independent of each other.
type Options struct {
	Language          string
	NormalizeLoudness bool
	TrimSilence       bool
}

// Outcome is the only artifact that survives a run. Expected failures end
// up here as a Reason, never as a raised error.
type Outcome struct {
	Success  bool                 `json:"success"`
	Text     string               `json:"text,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Failures []transcribe.Failure `json:"failures,omitempty"`
}

// Pipeline executes transcription runs. It holds no mutable state; every
// run owns a uniquely named temp directory removed on all exit paths.
type Pipeline struct {
	cfg     *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics
	backend transcribe.Backend
}

// New returns a Pipeline using backend for speech-to-text.
func New(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics, backend transcribe.Backend) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger, metrics: m, backend: backend}
}

// NewBackend builds the configured transcription backend.
func NewBackend(cfg *config.Config, logger *logrus.Logger) (transcribe.Backend, error) {
	switch cfg.Transcriber.Backend {
	case "", "openai":
		return transcribe.NewOpenAIBackend(cfg, logger), nil
	case "local":
		return transcribe.NewLocalBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown transcriber backend %q", cfg.Transcriber.Backend)
	}
}

// Run transcribes raw audio bytes.
func (p *Pipeline) Run(ctx context.Context, raw []byte, opts Options) Outcome {
	return p.execute(ctx, opts, func(ctx context.Context, runDir string) ([]byte, *Outcome) {
		return raw, nil
	})
}

// RunURL streams the audio from a direct URL through the large-input
// fetcher, then transcribes it.
func (p *Pipeline) RunURL(ctx context.Context, url string, opts Options) Outcome {
	return p.execute(ctx, opts, func(ctx context.Context, runDir string) ([]byte, *Outcome) {
		fetcher := fetch.New(p.cfg, p.logger, runDir)
		blob, err := fetcher.Fetch(ctx, url)
		if err != nil {
			var se *fetch.SizeExceededError
			if errors.As(err, &se) {
				p.metrics.FetchRejected.Inc()
				return nil, &Outcome{Reason: ReasonTooLarge}
			}
			p.logger.Warnf("fetch failed: %v", err)
			return nil, &Outcome{Reason: ReasonFetchFailed}
		}
		defer blob.Close()
		p.metrics.FetchBytes.Add(float64(blob.Size))
		data, err := blob.Bytes()
		if err != nil {
			p.logger.Warnf("read fetched blob: %v", err)
			return nil, &Outcome{Reason: ReasonFetchFailed}
		}
		return data, nil
	})
}

type ingest func(ctx context.Context, runDir string) ([]byte, *Outcome)

func (p *Pipeline) execute(ctx context.Context, opts Options, in ingest) Outcome {
	started := time.Now()
	p.metrics.RunsStarted.Inc()

	outcome := p.run(ctx, opts, in)

	p.metrics.RunDuration.Observe(time.Since(started).Seconds())
	if outcome.Success {
		p.metrics.RunsSucceeded.Inc()
	} else {
		p.metrics.RunsFailed.Inc()
	}
	return outcome
}

func (p *Pipeline) run(ctx context.Context, opts Options, in ingest) (out Outcome) {
	runID := uuid.NewString()
	log := p.logger.WithField("run_id", runID)

	// Expected failures are typed outcomes; anything else gets caught here
	// so callers and cleanup are never left inconsistent.
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("pipeline panic: %v", r)
			out = Outcome{Reason: ReasonInternal}
		}
	}()

	runDir := filepath.Join(p.cfg.TempRoot(), "audiopipe-"+runID)
	if err := os.MkdirAll(runDir, 0o700); err != nil {
		log.Errorf("create run dir: %v", err)
		return Outcome{Reason: ReasonInternal}
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			log.Warnf("remove run dir: %v", err)
		}
	}()

	raw, failed := in(ctx, runDir)
	if failed != nil {
		return *failed
	}
	if len(raw) == 0 {
		return Outcome{Reason: ReasonUnsupported}
	}

	format := sniff.Detect(raw)
	log.Infof("ingested %d bytes, detected format %s", len(raw), format)

	tc, err := transcode.New(p.cfg, p.logger, runDir)
	if err != nil {
		log.Errorf("transcoder unavailable: %v", err)
		return Outcome{Reason: ReasonNoTranscoder}
	}

	canonical, err := tc.Convert(ctx, raw)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Reason: ReasonCancelled}
		}
		log.Warnf("conversion failed for %s input: %v", format, err)
		return Outcome{Reason: ReasonUnsupported}
	}

	canonical = p.applyFilters(ctx, log, tc, canonical, opts)

	seg := segment.New(p.cfg, p.logger, tc, runDir)
	seg.OnFallback = p.metrics.FallbackSplits.Inc
	svc := transcribe.NewService(p.cfg, p.logger, p.backend, seg)
	tr, err := svc.TranscribeAll(ctx, canonical, opts.Language)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Reason: ReasonCancelled}
		}
		var segErr *segment.SegmentationError
		if errors.As(err, &segErr) {
			log.Errorf("segmentation exhausted: %v", err)
			return Outcome{Reason: ReasonSegmentation}
		}
		log.Errorf("transcription failed: %v", err)
		return Outcome{Reason: ReasonServiceDown}
	}

	p.metrics.SegmentFailures.Add(float64(len(tr.Failures)))
	p.metrics.SegmentsTranscribed.Add(float64(tr.Succeeded))
	if !tr.Success {
		return Outcome{Reason: reasonFromFailures(tr.Failures), Failures: tr.Failures}
	}

	out = Outcome{Success: true, Text: tr.Text, Failures: tr.Failures}
	if len(tr.Failures) > 0 {
		out.Reason = ReasonPartial
	}
	return out
}

// applyFilters runs the optional post-processing passes. Each toggle is
// independent; a failed pass is skipped, not fatal.
func (p *Pipeline) applyFilters(ctx context.Context, log *logrus.Entry, tc transcode.Transcoder, canonical []byte, opts Options) []byte {
	if opts.NormalizeLoudness {
		if filtered, err := tc.Filter(ctx, canonical, "loudnorm"); err != nil {
			log.Warnf("loudness normalization skipped: %v", err)
		} else {
			canonical = filtered
		}
	}
	if opts.TrimSilence {
		const trim = "silenceremove=start_periods=1:start_threshold=-50dB:stop_periods=-1:stop_threshold=-50dB"
		if filtered, err := tc.Filter(ctx, canonical, trim); err != nil {
			log.Warnf("silence trim skipped: %v", err)
		} else {
			canonical = filtered
		}
	}
	return canonical
}

func reasonFromFailures(failures []transcribe.Failure) string {
	for _, f := range failures {
		if strings.Contains(f.Reason, "rate limited") {
			return ReasonRateLimited
		}
	}
	for _, f := range failures {
		if strings.Contains(f.Reason, "unreachable") {
			return ReasonServiceDown
		}
	}
	return ReasonAllSegmentsFail
}
