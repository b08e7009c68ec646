// Package segment splits canonical audio into ordered, bounded segments.
//
// Two strategies run as a small state machine: a windowed ffmpeg extraction
// fast path, and an in-process decode fallback that does real silence
// detection for short audio. Only exhaustion of both becomes an error.
package segment

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sergeyshmagin/audiopipe/internal/config"
	"github.com/sergeyshmagin/audiopipe/internal/transcode"

	"github.com/sirupsen/logrus"
)

// Segment is one bounded-duration slice of canonical audio, the unit of
// transcription.
type Segment struct {
	Index    int
	Data     []byte
	Duration time.Duration
}

// SegmentationError means every splitting strategy was exhausted.
type SegmentationError struct {
	Err error
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("segmentation failed: %v", e.Err)
}

func (e *SegmentationError) Unwrap() error { return e.Err }

// Kind tags a strategy result.
type Kind int

const (
	// Done carries a usable, non-empty segment list.
	Done Kind = iota
	// NeedFallback means the strategy produced nothing usable and the next
	// one should run.
	NeedFallback
	// Fatal aborts segmentation entirely (caller cancellation, undecodable
	// input).
	Fatal
)

// Result is the tagged outcome of one strategy attempt.
type Result struct {
	Kind     Kind
	Segments []Segment
	Err      error
}

// Segmenter owns splitting for one pipeline run; scratch files go under
// workDir and are removed before each call returns.
type Segmenter struct {
	cfg     *config.Config
	logger  *logrus.Logger
	tc      transcode.Transcoder
	workDir string

	// OnFallback, when set, is called once per Split that resorts to the
	// in-process strategy.
	OnFallback func()
}

// New returns a Segmenter using tc for window extraction.
func New(cfg *config.Config, logger *logrus.Logger, tc transcode.Transcoder, workDir string) *Segmenter {
	return &Segmenter{cfg: cfg, logger: logger, tc: tc, workDir: workDir}
}

// Split produces a non-empty ordered segment list from canonical audio.
// The windowed strategy runs under the global segmentation budget; its
// failure or timeout triggers the in-process fallback.
func (s *Segmenter) Split(ctx context.Context, canonical []byte) ([]Segment, error) {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GlobalTimeout())
	defer cancel()

	res := s.splitWindows(gctx, canonical)
	switch res.Kind {
	case Done:
		return res.Segments, nil
	case Fatal:
		return nil, res.Err
	}
	s.logger.Warnf("window split unusable, trying in-process fallback: %v", res.Err)
	if s.OnFallback != nil {
		s.OnFallback()
	}

	res = s.splitInProcess(ctx, canonical)
	switch res.Kind {
	case Done:
		return res.Segments, nil
	case Fatal:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SegmentationError{Err: res.Err}
	}
	return nil, &SegmentationError{Err: res.Err}
}

func (s *Segmenter) writeScratch(pattern string, data []byte) (string, error) {
	file, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}
