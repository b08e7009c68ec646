package segment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/sergeyshmagin/audiopipe/internal/config"
	"github.com/sergeyshmagin/audiopipe/internal/logging"
	"github.com/sergeyshmagin/audiopipe/internal/transcode"
)

type fakeTranscoder struct {
	md       transcode.Metadata
	probeErr error
	extract  func(ctx context.Context, start, length time.Duration) ([]byte, error)
	windows  []time.Duration
}

func (f *fakeTranscoder) Convert(ctx context.Context, src []byte) ([]byte, error) { return src, nil }
func (f *fakeTranscoder) ConvertFile(ctx context.Context, inPath string) ([]byte, error) {
	return os.ReadFile(inPath)
}
func (f *fakeTranscoder) Filter(ctx context.Context, src []byte, af string) ([]byte, error) {
	return src, nil
}
func (f *fakeTranscoder) Probe(ctx context.Context, path string) (transcode.Metadata, error) {
	if f.probeErr != nil {
		return transcode.Metadata{}, f.probeErr
	}
	return f.md, nil
}
func (f *fakeTranscoder) ExtractWindow(ctx context.Context, inPath string, start, length time.Duration) ([]byte, error) {
	f.windows = append(f.windows, start)
	return f.extract(ctx, start, length)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Segment.WindowSec = 30
	cfg.Segment.MaxDurationSec = 600
	cfg.Segment.WindowTimeoutSec = 1
	cfg.Segment.GlobalTimeoutSec = 10
	cfg.Segment.MinSegmentBytes = 1000
	cfg.Segment.MinSilenceMS = 100
	cfg.Segment.SilenceThreshDB = -40
	cfg.Segment.VADEnabled = false
	return cfg
}

func newTestSegmenter(t *testing.T, cfg *config.Config, tc transcode.Transcoder) *Segmenter {
	t.Helper()
	return New(cfg, logging.NewTestLogger(), tc, t.TempDir())
}

func payload(n int) []byte { return make([]byte, n) }

func TestSplitWindowsOrderedAndBounded(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeTranscoder{
		md: transcode.Metadata{Duration: 90 * time.Second},
		extract: func(ctx context.Context, start, length time.Duration) ([]byte, error) {
			return payload(5000), nil
		},
	}
	s := newTestSegmenter(t, cfg, fake)

	segs, err := s.Split(context.Background(), payload(5000))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("want 3 segments, got %d", len(segs))
	}
	var sum time.Duration
	for i, seg := range segs {
		if seg.Index != i {
			t.Fatalf("segment %d has index %d", i, seg.Index)
		}
		sum += seg.Duration
	}
	if sum > fake.md.Duration {
		t.Fatalf("summed duration %v exceeds total %v", sum, fake.md.Duration)
	}
	for i := 1; i < len(fake.windows); i++ {
		if fake.windows[i] <= fake.windows[i-1] {
			t.Fatalf("windows not strictly ordered: %v", fake.windows)
		}
	}
}

func TestSplitWindowsTruncatesAtCeiling(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeTranscoder{
		md: transcode.Metadata{Duration: 700 * time.Second},
		extract: func(ctx context.Context, start, length time.Duration) ([]byte, error) {
			return payload(5000), nil
		},
	}
	s := newTestSegmenter(t, cfg, fake)

	segs, err := s.Split(context.Background(), payload(5000))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	// 600s ceiling at 30s windows: exactly 20 extractions, none past 600s.
	if len(segs) != 20 {
		t.Fatalf("want 20 segments after truncation, got %d", len(segs))
	}
	for _, start := range fake.windows {
		if start >= 600*time.Second {
			t.Fatalf("window extracted past ceiling: %v", start)
		}
	}
}

func TestSplitWindowsSkipsTimedOutWindow(t *testing.T) {
	cfg := testConfig(t)
	call := 0
	fake := &fakeTranscoder{
		md: transcode.Metadata{Duration: 90 * time.Second},
		extract: func(ctx context.Context, start, length time.Duration) ([]byte, error) {
			call++
			if call == 2 {
				return nil, context.DeadlineExceeded
			}
			return payload(5000), nil
		},
	}
	s := newTestSegmenter(t, cfg, fake)

	segs, err := s.Split(context.Background(), payload(5000))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("timed-out window should be skipped: got %d segments", len(segs))
	}
	if segs[0].Index != 0 || segs[1].Index != 1 {
		t.Fatalf("indices must stay dense after a skip: %+v", segs)
	}
}

func TestSplitWindowsFiltersSmallSegments(t *testing.T) {
	cfg := testConfig(t)
	call := 0
	fake := &fakeTranscoder{
		md: transcode.Metadata{Duration: 60 * time.Second},
		extract: func(ctx context.Context, start, length time.Duration) ([]byte, error) {
			call++
			if call == 1 {
				return payload(10), nil // below min_segment_bytes
			}
			return payload(5000), nil
		},
	}
	s := newTestSegmenter(t, cfg, fake)

	segs, err := s.Split(context.Background(), payload(5000))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("undersized window must be dropped: got %d", len(segs))
	}
}

func TestSplitFallsBackWhenProbeFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Segment.MinSegmentBytes = 100
	fake := &fakeTranscoder{probeErr: errors.New("probe broken")}
	s := newTestSegmenter(t, cfg, fake)

	canonical := encodeTestWAV(t, speechWithGaps(t, 8000, 3, 2))
	segs, err := s.Split(context.Background(), canonical)
	if err != nil {
		t.Fatalf("split via fallback: %v", err)
	}
	if len(segs) == 0 {
		t.Fatalf("fallback must not return an empty list")
	}
}

func TestSplitCancelledByCaller(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeTranscoder{
		md: transcode.Metadata{Duration: 90 * time.Second},
		extract: func(ctx context.Context, start, length time.Duration) ([]byte, error) {
			cancel()
			return nil, context.Canceled
		},
	}
	s := newTestSegmenter(t, cfg, fake)

	_, err := s.Split(ctx, payload(5000))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want caller cancellation to propagate, got %v", err)
	}
}

func TestInProcessSilenceSplit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Segment.MinSegmentBytes = 100
	s := newTestSegmenter(t, cfg, &fakeTranscoder{})

	// Three bursts of speech separated by gaps longer than min_silence_ms.
	canonical := encodeTestWAV(t, speechWithGaps(t, 8000, 3, 2))
	res := s.splitInProcess(context.Background(), canonical)
	if res.Kind != Done {
		t.Fatalf("fallback result kind %v err %v", res.Kind, res.Err)
	}
	if len(res.Segments) != 3 {
		t.Fatalf("want 3 silence-split segments, got %d", len(res.Segments))
	}
	for i, seg := range res.Segments {
		if seg.Index != i {
			t.Fatalf("segment order broken: %+v", res.Segments)
		}
		if len(seg.Data) < 100 {
			t.Fatalf("segment %d too small: %d bytes", i, len(seg.Data))
		}
	}
}

func TestInProcessLongAudioUsesFixedWindows(t *testing.T) {
	cfg := testConfig(t)
	cfg.Segment.MinSegmentBytes = 100
	cfg.Segment.ShortAudioSec = 1 // force the fixed-window branch
	cfg.Segment.WindowSec = 2
	s := newTestSegmenter(t, cfg, &fakeTranscoder{})

	canonical := encodeTestWAV(t, tone(8000, 6*time.Second))
	res := s.splitInProcess(context.Background(), canonical)
	if res.Kind != Done {
		t.Fatalf("fallback result kind %v err %v", res.Kind, res.Err)
	}
	if len(res.Segments) != 3 {
		t.Fatalf("6s at 2s windows: want 3 segments, got %d", len(res.Segments))
	}
}

func TestInProcessWholeFileAsLastResort(t *testing.T) {
	cfg := testConfig(t)
	cfg.Segment.MinSegmentBytes = 1 << 30 // nothing survives the filter
	s := newTestSegmenter(t, cfg, &fakeTranscoder{})

	canonical := encodeTestWAV(t, tone(8000, time.Second))
	res := s.splitInProcess(context.Background(), canonical)
	if res.Kind != Done || len(res.Segments) != 1 {
		t.Fatalf("want whole-file single segment, got kind %v with %d", res.Kind, len(res.Segments))
	}
	if len(res.Segments[0].Data) != len(canonical) {
		t.Fatalf("single segment must carry the whole audio")
	}
}

func TestInProcessRejectsGarbage(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeTranscoder{probeErr: errors.New("probe broken")}
	s := newTestSegmenter(t, cfg, fake)

	_, err := s.Split(context.Background(), []byte("not audio at all"))
	var segErr *SegmentationError
	if !errors.As(err, &segErr) {
		t.Fatalf("want SegmentationError, got %v", err)
	}
}

func TestInProcessTruncatesAtCeiling(t *testing.T) {
	cfg := testConfig(t)
	cfg.Segment.MaxDurationSec = 2
	cfg.Segment.ShortAudioSec = 1
	cfg.Segment.WindowSec = 1
	cfg.Segment.MinSegmentBytes = 100
	s := newTestSegmenter(t, cfg, &fakeTranscoder{})

	canonical := encodeTestWAV(t, tone(8000, 10*time.Second))
	res := s.splitInProcess(context.Background(), canonical)
	if res.Kind != Done {
		t.Fatalf("fallback result: %v", res.Err)
	}
	var sum time.Duration
	for _, seg := range res.Segments {
		sum += seg.Duration
	}
	if sum > 2*time.Second+50*time.Millisecond {
		t.Fatalf("truncation to ceiling failed: summed %v", sum)
	}
}

func TestSegmenterLeavesNoScratchFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Segment.MinSegmentBytes = 100
	workDir := t.TempDir()
	fake := &fakeTranscoder{probeErr: errors.New("probe broken")}
	s := New(cfg, logging.NewTestLogger(), fake, workDir)

	canonical := encodeTestWAV(t, speechWithGaps(t, 8000, 2, 1))
	if _, err := s.Split(context.Background(), canonical); err != nil {
		t.Fatalf("split: %v", err)
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatalf("read workdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch files left behind: %d", len(entries))
	}
}

func TestDBFS(t *testing.T) {
	loud := make([]int, 160)
	for i := range loud {
		loud[i] = 16000
	}
	if got := dbFS(loud); got > -6 || got < -7 {
		t.Fatalf("half-scale frame should be near -6.2dBFS, got %.2f", got)
	}
	if got := dbFS(make([]int, 160)); got > -100 {
		t.Fatalf("all-zero frame must be far below any threshold, got %.2f", got)
	}
}

// tone generates a constant-energy square-ish signal well above the
// silence threshold.
func tone(rate int, d time.Duration) []int {
	n := int(d.Seconds() * float64(rate))
	out := make([]int, n)
	for i := range out {
		if i%8 < 4 {
			out[i] = 8000
		} else {
			out[i] = -8000
		}
	}
	return out
}

// speechWithGaps builds bursts separated by gaps, each long enough for the
// silence detector. bursts is the number of speech pieces, gaps the number
// of silent gaps between them.
func speechWithGaps(t *testing.T, rate, bursts, gaps int) []int {
	t.Helper()
	if gaps != bursts-1 {
		t.Fatalf("bad fixture: %d bursts need %d gaps", bursts, bursts-1)
	}
	var out []int
	burst := tone(rate, 500*time.Millisecond)
	gap := make([]int, int(0.3*float64(rate))) // 300ms of silence
	for i := 0; i < bursts; i++ {
		out = append(out, burst...)
		if i < gaps {
			out = append(out, gap...)
		}
	}
	return out
}

// encodeTestWAV writes mono 16-bit samples as a wav file and returns its
// bytes.
func encodeTestWAV(t *testing.T, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	enc := wav.NewEncoder(file, 8000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}
