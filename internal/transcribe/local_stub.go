//go:build !whisper

package transcribe

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/sergeyshmagin/audiopipe/internal/config"
)

// NewLocalBackend requires the whisper build tag.
func NewLocalBackend(cfg *config.Config, logger *logrus.Logger) (Backend, error) {
	return nil, errors.New("local backend not built; rebuild with -tags whisper")
}
