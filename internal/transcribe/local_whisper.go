//go:build whisper

package transcribe

import (
	"bytes"
	"context"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"

	"github.com/sergeyshmagin/audiopipe/internal/config"
)

// LocalBackend runs whisper.cpp in process against the configured model.
// It expects canonical 16kHz mono input.
type LocalBackend struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewLocalBackend returns the whisper.cpp backend.
func NewLocalBackend(cfg *config.Config, logger *logrus.Logger) (Backend, error) {
	return &LocalBackend{cfg: cfg, logger: logger}, nil
}

func (l *LocalBackend) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	samples, err := decodeSamples(audio)
	if err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}

	model, err := whisper.New(l.cfg.Transcriber.ModelPath)
	if err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}
	defer func() { _ = model.Close() }()

	wctx, err := model.NewContext()
	if err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}
	if lang := strings.TrimSpace(language); lang != "" {
		_ = wctx.SetLanguage(lang)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", &TranscriptionError{Msg: err.Error()}
	}

	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			break
		}
		b.WriteString(seg.Text)
		if !strings.HasSuffix(seg.Text, " ") {
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func decodeSamples(audio []byte) ([]float32, error) {
	dec := wav.NewDecoder(bytes.NewReader(audio))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	f32 := buf.AsFloat32Buffer()
	return f32.Data, nil
}
