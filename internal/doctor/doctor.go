// Package doctor sanity-checks the local environment before a run.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sergeyshmagin/audiopipe/internal/config"
)

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes all checks for the active configuration.
func Run(cfg *config.Config) []Result {
	results := []Result{
		checkBinary("ffmpeg", cfg.FFmpeg.BinaryCandidates, "ffmpeg"),
		checkBinary("ffprobe", cfg.FFmpeg.ProbeCandidates, "ffprobe"),
		checkTempRoot(cfg),
	}
	switch cfg.Transcriber.Backend {
	case "", "openai":
		results = append(results, checkAPIKey(cfg))
	case "local":
		results = append(results, checkFile("model file", cfg.Transcriber.ModelPath))
	default:
		results = append(results, Result{
			Name:   "transcriber.backend",
			Detail: fmt.Sprintf("unknown backend %q", cfg.Transcriber.Backend),
		})
	}
	if cfg.Delivery.Command != "" {
		results = append(results, checkExecutable("delivery.command", cfg.Delivery.Command))
	}
	return results
}

// Healthy reports whether every check passed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func checkBinary(label string, candidates []string, fallback string) Result {
	for _, c := range candidates {
		path := os.ExpandEnv(c)
		if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0 {
			return Result{Name: label, Pass: true, Detail: path}
		}
	}
	resolved, err := exec.LookPath(fallback)
	if err != nil {
		return Result{Name: label, Detail: fmt.Sprintf("%s not found in candidates or PATH", fallback)}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkTempRoot(cfg *config.Config) Result {
	root := cfg.TempRoot()
	probe, err := os.MkdirTemp(root, "audiopipe-doctor-")
	if err != nil {
		return Result{Name: "temp root", Detail: err.Error()}
	}
	os.Remove(probe)
	return Result{Name: "temp root", Pass: true, Detail: root}
}

func checkAPIKey(cfg *config.Config) Result {
	if strings.TrimSpace(cfg.Transcriber.APIKey) == "" {
		return Result{Name: "api key", Detail: "transcriber.api_key empty and AUDIOPIPE_API_KEY unset"}
	}
	return Result{Name: "api key", Pass: true, Detail: "configured"}
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

func checkExecutable(label, cmd string) Result {
	path := os.ExpandEnv(cmd)
	if strings.Contains(path, "/") {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Detail: "is a directory; point at an executable file"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Detail: "not executable; chmod +x or choose another command"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}
