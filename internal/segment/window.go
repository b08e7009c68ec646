package segment

import (
	"context"
	"errors"
	"time"
)

// splitWindows is the fast path: probe the total duration, truncate to the
// configured ceiling, then extract fixed-size time windows via ffmpeg. It
// trades boundary quality for bounded latency on long files; real silence
// detection only happens in the fallback.
func (s *Segmenter) splitWindows(ctx context.Context, canonical []byte) Result {
	in, err := s.writeScratch("split_in_*.wav", canonical)
	if err != nil {
		return Result{Kind: NeedFallback, Err: err}
	}
	defer removeQuiet(in)

	md, err := s.tc.Probe(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return s.interrupted(ctx)
		}
		return Result{Kind: NeedFallback, Err: err}
	}

	total := md.Duration
	ceiling := time.Duration(s.cfg.Segment.MaxDurationSec * float64(time.Second))
	if total > ceiling {
		s.logger.Warnf("audio duration %v exceeds ceiling %v, truncating", total, ceiling)
		total = ceiling
	}

	window := time.Duration(s.cfg.Segment.WindowSec * float64(time.Second))
	if window <= 0 {
		return Result{Kind: NeedFallback, Err: errors.New("window length not configured")}
	}

	var segments []Segment
	skipped := 0
	for start := time.Duration(0); start < total; start += window {
		length := window
		if remaining := total - start; remaining < length {
			length = remaining
		}

		wctx, cancel := context.WithTimeout(ctx, s.cfg.WindowTimeout())
		data, err := s.tc.ExtractWindow(wctx, in, start, length)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return s.interrupted(ctx)
			}
			// A slow or broken window is skipped, not fatal.
			s.logger.Warnf("window at %v skipped: %v", start, err)
			skipped++
			continue
		}
		if len(data) < s.cfg.Segment.MinSegmentBytes {
			continue
		}
		segments = append(segments, Segment{Index: len(segments), Data: data, Duration: length})
	}

	if len(segments) == 0 {
		return Result{Kind: NeedFallback, Err: errors.New("no window produced a usable segment")}
	}
	if skipped > 0 {
		s.logger.Infof("window split kept %d segments, skipped %d windows", len(segments), skipped)
	}
	return Result{Kind: Done, Segments: segments}
}

// interrupted distinguishes the strategy's own budget running out (fall
// back) from the caller cancelling the run (abort).
func (s *Segmenter) interrupted(ctx context.Context) Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Kind: NeedFallback, Err: ctx.Err()}
	}
	return Result{Kind: Fatal, Err: ctx.Err()}
}
