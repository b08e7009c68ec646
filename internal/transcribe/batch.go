package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"

	"github.com/sergeyshmagin/audiopipe/internal/config"
	"github.com/sergeyshmagin/audiopipe/internal/segment"
)

// Segmenter is the slice of the segmentation package the batch service
// needs.
type Segmenter interface {
	Split(ctx context.Context, canonical []byte) ([]segment.Segment, error)
}

// Service transcribes canonical audio, segmenting it first when the
// estimated duration exceeds the long-audio threshold. Segments are
// processed strictly in order, one at a time, to respect remote rate
// limits.
type Service struct {
	cfg       *config.Config
	logger    *logrus.Logger
	backend   Backend
	segmenter Segmenter
}

// NewService wires a batch transcription service.
func NewService(cfg *config.Config, logger *logrus.Logger, backend Backend, segmenter Segmenter) *Service {
	return &Service{cfg: cfg, logger: logger, backend: backend, segmenter: segmenter}
}

// TranscribeAll produces the assembled transcript for canonical audio.
// Per-segment failures are recorded, not fatal; the returned error is
// non-nil only for segmentation exhaustion or caller cancellation.
func (s *Service) TranscribeAll(ctx context.Context, canonical []byte, language string) (Transcript, error) {
	if language == "" {
		language = s.cfg.Transcriber.Language
	}

	threshold := time.Duration(s.cfg.Transcriber.LongAudioSec * float64(time.Second))
	if dur := estimateDuration(canonical); dur <= threshold {
		text, err := s.backend.Transcribe(ctx, canonical, language)
		if err != nil {
			return Transcript{Failures: []Failure{{Index: 0, Reason: failureReason(err)}}}, nil
		}
		return Transcript{Text: text, Success: true, Succeeded: 1}, nil
	}

	segments, err := s.segmenter.Split(ctx, canonical)
	if err != nil {
		return Transcript{}, fmt.Errorf("split long audio: %w", err)
	}
	s.logger.Infof("transcribing %d segments", len(segments))

	outcomes := make([]Outcome, 0, len(segments))
	for _, seg := range segments {
		if ctx.Err() != nil {
			return Transcript{}, ctx.Err()
		}
		text, err := s.backend.Transcribe(ctx, seg.Data, language)
		if err != nil {
			s.logger.Warnf("segment %d failed: %v", seg.Index, err)
		}
		outcomes = append(outcomes, Outcome{Index: seg.Index, Text: text, Err: err})
	}
	return Assemble(outcomes), nil
}

// Assemble joins successful outcomes in input order and collects failures.
func Assemble(outcomes []Outcome) Transcript {
	var texts []string
	var failures []Failure
	for _, o := range outcomes {
		if o.Ok() {
			if t := strings.TrimSpace(o.Text); t != "" {
				texts = append(texts, t)
			}
			continue
		}
		failures = append(failures, Failure{Index: o.Index, Reason: failureReason(o.Err)})
	}
	return Transcript{
		Text:      strings.Join(texts, " "),
		Success:   len(texts) > 0,
		Succeeded: len(texts),
		Failures:  failures,
	}
}

func failureReason(err error) string {
	var rl *RateLimitedError
	var ne *NetworkError
	var te *TranscriptionError
	switch {
	case errors.As(err, &rl):
		return "rate limited after retries"
	case errors.As(err, &ne):
		return "service unreachable"
	case errors.As(err, &te):
		return te.Error()
	default:
		return err.Error()
	}
}

// estimateDuration reads the wav header; zero means the estimate failed and
// the audio is treated as short.
func estimateDuration(canonical []byte) time.Duration {
	dec := wav.NewDecoder(bytes.NewReader(canonical))
	dur, err := dec.Duration()
	if err != nil {
		return 0
	}
	return dur
}
