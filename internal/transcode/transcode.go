// Package transcode normalizes arbitrary audio to the canonical encoding by
// driving an external ffmpeg binary.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sergeyshmagin/audiopipe/internal/config"

	"github.com/sirupsen/logrus"
)

// ErrBinaryNotFound indicates no usable ffmpeg/ffprobe install was located.
var ErrBinaryNotFound = errors.New("binary not found")

// ConversionError reports a failed transcode invocation.
type ConversionError struct {
	Op     string
	Err    error
	Stderr string
}

func (e *ConversionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transcode %s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("transcode %s: %v", e.Op, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Metadata describes a probed audio stream.
type Metadata struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitRate    int
}

// Transcoder converts arbitrary audio bytes to the canonical encoding.
// Implementations own their intermediate files and remove them before
// returning.
type Transcoder interface {
	Convert(ctx context.Context, src []byte) ([]byte, error)
	ConvertFile(ctx context.Context, inPath string) ([]byte, error)
	ExtractWindow(ctx context.Context, inPath string, start, length time.Duration) ([]byte, error)
	Probe(ctx context.Context, path string) (Metadata, error)
	Filter(ctx context.Context, src []byte, audioFilter string) ([]byte, error)
}

// FFmpeg is the subprocess-backed Transcoder. One instance serves one
// pipeline run and keeps all scratch files under workDir.
type FFmpeg struct {
	cfg     *config.Config
	logger  *logrus.Logger
	workDir string
	bin     string
	probe   string
}

// New resolves the ffmpeg and ffprobe binaries and returns a Transcoder
// writing scratch files under workDir. Resolution tries the configured
// well-known paths first, then PATH.
func New(cfg *config.Config, logger *logrus.Logger, workDir string) (*FFmpeg, error) {
	bin, err := resolveBinary(cfg.FFmpeg.BinaryCandidates, "ffmpeg")
	if err != nil {
		return nil, &ConversionError{Op: "resolve", Err: err}
	}
	probe, err := resolveBinary(cfg.FFmpeg.ProbeCandidates, "ffprobe")
	if err != nil {
		// Probing is degraded but conversion still works.
		logger.Warnf("ffprobe not found, duration probing disabled: %v", err)
		probe = ""
	}
	return &FFmpeg{cfg: cfg, logger: logger, workDir: workDir, bin: bin, probe: probe}, nil
}

func resolveBinary(candidates []string, name string) (string, error) {
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode().Perm()&0o111 == 0 {
			continue
		}
		return p, nil
	}
	if resolved, err := exec.LookPath(name); err == nil {
		return resolved, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
}

// Convert writes src to a scratch file and converts it to canonical bytes.
func (f *FFmpeg) Convert(ctx context.Context, src []byte) ([]byte, error) {
	in, err := f.writeScratch("in_*", src)
	if err != nil {
		return nil, &ConversionError{Op: "convert", Err: err}
	}
	defer os.Remove(in)
	return f.ConvertFile(ctx, in)
}

// ConvertFile converts the file at inPath to canonical bytes.
func (f *FFmpeg) ConvertFile(ctx context.Context, inPath string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, f.cfg.ConvertTimeout())
	defer cancel()

	out, err := f.scratchName("canon_*.wav")
	if err != nil {
		return nil, &ConversionError{Op: "convert", Err: err}
	}
	defer os.Remove(out)

	args := []string{"-y", "-i", inPath, "-vn"}
	args = append(args, f.codecArgs()...)
	args = append(args, out)
	if err := f.run(runCtx, "convert", f.bin, args); err != nil {
		return nil, err
	}
	return readNonEmpty("convert", out)
}

// ExtractWindow converts the [start, start+length) slice of inPath to
// canonical bytes. The per-call deadline comes from the passed context.
func (f *FFmpeg) ExtractWindow(ctx context.Context, inPath string, start, length time.Duration) ([]byte, error) {
	out, err := f.scratchName("win_*.wav")
	if err != nil {
		return nil, &ConversionError{Op: "extract", Err: err}
	}
	defer os.Remove(out)

	args := []string{
		"-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-i", inPath,
		"-vn",
	}
	args = append(args, f.codecArgs()...)
	args = append(args, out)
	if err := f.run(ctx, "extract", f.bin, args); err != nil {
		return nil, err
	}
	return readNonEmpty("extract", out)
}

// Filter applies an ffmpeg audio filter (loudnorm, silenceremove, ...) to
// canonical bytes and re-encodes the result canonically.
func (f *FFmpeg) Filter(ctx context.Context, src []byte, audioFilter string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, f.cfg.ConvertTimeout())
	defer cancel()

	in, err := f.writeScratch("filt_in_*.wav", src)
	if err != nil {
		return nil, &ConversionError{Op: "filter", Err: err}
	}
	defer os.Remove(in)
	out, err := f.scratchName("filt_out_*.wav")
	if err != nil {
		return nil, &ConversionError{Op: "filter", Err: err}
	}
	defer os.Remove(out)

	args := []string{"-y", "-i", in, "-vn", "-af", audioFilter}
	args = append(args, f.codecArgs()...)
	args = append(args, out)
	if err := f.run(runCtx, "filter", f.bin, args); err != nil {
		return nil, err
	}
	return readNonEmpty("filter", out)
}

// Probe returns stream metadata for the file at path via ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Metadata, error) {
	if f.probe == "" {
		return Metadata{}, &ConversionError{Op: "probe", Err: ErrBinaryNotFound}
	}
	runCtx, cancel := context.WithTimeout(ctx, f.cfg.ConvertTimeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, f.probe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return Metadata{}, fmt.Errorf("probe %s: %w", path, ctxErr)
		}
		return Metadata{}, &ConversionError{Op: "probe", Err: err, Stderr: tail(stderr.String())}
	}
	md, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return Metadata{}, &ConversionError{Op: "probe", Err: err}
	}
	return md, nil
}

func (f *FFmpeg) codecArgs() []string {
	args := []string{
		"-acodec", f.cfg.Audio.Codec,
		"-ar", fmt.Sprintf("%d", f.cfg.Audio.SampleRate),
		"-ac", fmt.Sprintf("%d", f.cfg.Audio.Channels),
	}
	if !isLossless(f.cfg.Audio.Codec) {
		args = append(args, "-b:a", f.cfg.Audio.Bitrate)
	}
	return args
}

func isLossless(codec string) bool {
	return strings.HasPrefix(codec, "pcm_") || codec == "flac" || codec == "alac"
}

func (f *FFmpeg) run(ctx context.Context, op, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	f.logger.Debugf("exec %s %s", bin, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return &ConversionError{Op: op, Err: err, Stderr: tail(stderr.String())}
	}
	return nil
}

func (f *FFmpeg) writeScratch(pattern string, data []byte) (string, error) {
	file, err := os.CreateTemp(f.workDir, pattern)
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

// scratchName reserves a unique path without leaving an empty file behind,
// since ffmpeg wants to create the output itself.
func (f *FFmpeg) scratchName(pattern string) (string, error) {
	file, err := os.CreateTemp(f.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := file.Name()
	file.Close()
	os.Remove(name)
	return name, nil
}

func readNonEmpty(op, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConversionError{Op: op, Err: fmt.Errorf("missing output: %w", err)}
	}
	if len(data) == 0 {
		return nil, &ConversionError{Op: op, Err: errors.New("empty output")}
	}
	return data, nil
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 400
	if len(s) > max {
		return s[len(s)-max:]
	}
	return s
}
