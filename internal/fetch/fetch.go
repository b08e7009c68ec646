// Package fetch streams oversized audio from a direct URL under a byte
// budget, used when inline downloads are capped by the host platform.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sergeyshmagin/audiopipe/internal/config"
)

// SizeExceededError aborts a fetch whose size is over the byte budget,
// whether declared up front or discovered mid-transfer.
type SizeExceededError struct {
	Budget   int64
	Declared int64 // -1 when unknown
}

func (e *SizeExceededError) Error() string {
	if e.Declared >= 0 {
		return fmt.Sprintf("fetch size %d exceeds budget %d", e.Declared, e.Budget)
	}
	return fmt.Sprintf("fetch exceeded budget %d mid-transfer", e.Budget)
}

// Blob is fetched content, buffered in memory for moderate sizes or
// spooled to a temp file for large ones. Close releases the spool file.
type Blob struct {
	Data []byte
	Path string
	Size int64
}

// Bytes returns the content regardless of where it was buffered.
func (b *Blob) Bytes() ([]byte, error) {
	if b.Path == "" {
		return b.Data, nil
	}
	return os.ReadFile(b.Path)
}

// Close removes the spool file, if any.
func (b *Blob) Close() error {
	if b.Path == "" {
		return nil
	}
	err := os.Remove(b.Path)
	b.Path = ""
	return err
}

// Fetcher downloads content under cfg's byte budget.
type Fetcher struct {
	cfg     *config.Config
	logger  *logrus.Logger
	client  *http.Client
	workDir string
}

// New returns a Fetcher spooling large content under workDir.
func New(cfg *config.Config, logger *logrus.Logger, workDir string) *Fetcher {
	return &Fetcher{cfg: cfg, logger: logger, client: &http.Client{}, workDir: workDir}
}

// Fetch streams url into a Blob. A declared content length over budget is
// rejected before any transfer; otherwise cumulative bytes are re-checked
// each chunk, so a missing or lying header still cannot bust the budget.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch %s: http %d", url, resp.StatusCode)
	}

	budget := f.cfg.Fetch.MaxBytes
	declared := resp.ContentLength
	if declared > budget {
		return nil, &SizeExceededError{Budget: budget, Declared: declared}
	}

	if declared >= 0 && declared >= f.cfg.Fetch.SpoolMinBytes {
		return f.spool(resp.Body, budget)
	}
	return f.buffer(resp.Body, budget)
}

func (f *Fetcher) buffer(body io.Reader, budget int64) (*Blob, error) {
	chunk := make([]byte, f.chunkSize())
	var data []byte
	var total int64
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > budget {
				return nil, &SizeExceededError{Budget: budget, Declared: -1}
			}
			data = append(data, chunk[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	return &Blob{Data: data, Size: total}, nil
}

func (f *Fetcher) spool(body io.Reader, budget int64) (*Blob, error) {
	file, err := os.CreateTemp(f.workDir, "fetch_*.bin")
	if err != nil {
		return nil, fmt.Errorf("spool file: %w", err)
	}
	path := file.Name()
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	chunk := make([]byte, f.chunkSize())
	var total int64
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > budget {
				cleanup()
				return nil, &SizeExceededError{Budget: budget, Declared: -1}
			}
			if _, werr := file.Write(chunk[:n]); werr != nil {
				cleanup()
				return nil, fmt.Errorf("spool write: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("spool close: %w", err)
	}
	f.logger.Debugf("spooled %d bytes to %s", total, path)
	return &Blob{Path: path, Size: total}, nil
}

func (f *Fetcher) chunkSize() int {
	if f.cfg.Fetch.ChunkBytes > 0 {
		return f.cfg.Fetch.ChunkBytes
	}
	return 64 * 1024
}
