package segment

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const frameLength = 20 * time.Millisecond

// splitInProcess decodes the whole canonical file in memory and splits it
// without ffmpeg. Short audio gets real silence-gap detection; long audio
// gets fixed windows for predictable cost. If nothing survives the
// minimum-size filter the whole file becomes a single segment.
func (s *Segmenter) splitInProcess(ctx context.Context, canonical []byte) Result {
	dec := wav.NewDecoder(bytes.NewReader(canonical))
	if !dec.IsValidFile() {
		return Result{Kind: Fatal, Err: fmt.Errorf("input is not decodable wav")}
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Result{Kind: Fatal, Err: fmt.Errorf("decode wav: %w", err)}
	}
	if buf == nil || len(buf.Data) == 0 {
		return Result{Kind: Fatal, Err: fmt.Errorf("decoded zero samples")}
	}

	rate := buf.Format.SampleRate
	samples := downmix(buf.Data, buf.Format.NumChannels)

	ceiling := time.Duration(s.cfg.Segment.MaxDurationSec * float64(time.Second))
	if maxSamples := samplesFor(ceiling, rate); len(samples) > maxSamples {
		s.logger.Warnf("in-process split truncating to %v", ceiling)
		samples = samples[:maxSamples]
	}
	total := durationFor(len(samples), rate)

	var pieces [][]int
	if total <= time.Duration(s.cfg.Segment.ShortAudioSec*float64(time.Second)) {
		pieces = s.splitAtSilence(ctx, samples, rate)
	} else {
		pieces = fixedPieces(samples, samplesFor(time.Duration(s.cfg.Segment.WindowSec*float64(time.Second)), rate))
	}
	if ctx.Err() != nil {
		return Result{Kind: Fatal, Err: ctx.Err()}
	}

	var segments []Segment
	for _, piece := range pieces {
		if len(piece) == 0 {
			continue
		}
		data, err := s.encodePiece(piece, rate)
		if err != nil {
			s.logger.Warnf("piece re-encode failed: %v", err)
			continue
		}
		if len(data) < s.cfg.Segment.MinSegmentBytes {
			continue
		}
		segments = append(segments, Segment{
			Index:    len(segments),
			Data:     data,
			Duration: durationFor(len(piece), rate),
		})
	}

	// Last resort: the whole audio as one segment beats failing.
	if len(segments) == 0 {
		segments = []Segment{{Index: 0, Data: canonical, Duration: total}}
	}
	return Result{Kind: Done, Segments: segments}
}

// splitAtSilence finds low-amplitude gaps of at least the configured
// minimum length and cuts at each gap's midpoint.
func (s *Segmenter) splitAtSilence(ctx context.Context, samples []int, rate int) [][]int {
	frame := samplesFor(frameLength, rate)
	if frame <= 0 || len(samples) < frame {
		return [][]int{samples}
	}

	vad := s.newVAD(rate)
	silent := make([]bool, 0, len(samples)/frame)
	for off := 0; off+frame <= len(samples); off += frame {
		if ctx.Err() != nil {
			return nil
		}
		chunk := samples[off : off+frame]
		quiet := dbFS(chunk) < s.cfg.Segment.SilenceThreshDB
		if quiet && vad != nil {
			// The energy gate says silence; the VAD gets a veto.
			if voice, err := vad.IsVoice(chunk); err == nil && voice {
				quiet = false
			}
		}
		silent = append(silent, quiet)
	}

	minFrames := int(time.Duration(s.cfg.Segment.MinSilenceMS) * time.Millisecond / frameLength)
	if minFrames < 1 {
		minFrames = 1
	}

	var cuts []int
	runStart := -1
	for i, q := range silent {
		if q {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 && i-runStart >= minFrames {
			cuts = append(cuts, ((runStart+i)/2)*frame)
		}
		runStart = -1
	}

	if len(cuts) == 0 {
		return [][]int{samples}
	}
	var pieces [][]int
	prev := 0
	for _, cut := range cuts {
		pieces = append(pieces, samples[prev:cut])
		prev = cut
	}
	pieces = append(pieces, samples[prev:])
	return pieces
}

func fixedPieces(samples []int, size int) [][]int {
	if size <= 0 {
		return [][]int{samples}
	}
	var pieces [][]int
	for off := 0; off < len(samples); off += size {
		end := off + size
		if end > len(samples) {
			end = len(samples)
		}
		pieces = append(pieces, samples[off:end])
	}
	return pieces
}

// encodePiece re-encodes mono samples as canonical-rate wav bytes. The wav
// encoder needs a seekable file, so this round-trips through a scratch file.
func (s *Segmenter) encodePiece(samples []int, rate int) ([]byte, error) {
	file, err := os.CreateTemp(s.workDir, "piece_*.wav")
	if err != nil {
		return nil, err
	}
	name := file.Name()
	defer removeQuiet(name)

	enc := wav.NewEncoder(file, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		file.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}

func downmix(data []int, channels int) []int {
	if channels <= 1 {
		return data
	}
	out := make([]int, 0, len(data)/channels)
	for i := 0; i+channels <= len(data); i += channels {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += data[i+c]
		}
		out = append(out, sum/channels)
	}
	return out
}

// dbFS computes frame loudness relative to 16-bit full scale.
func dbFS(samples []int) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, v := range samples {
		f := float64(v)
		sum += f * f
	}
	rms := math.Sqrt(sum/float64(len(samples))) / 32768.0
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

func durationFor(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}
