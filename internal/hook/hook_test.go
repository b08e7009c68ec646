package hook

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sergeyshmagin/audiopipe/internal/config"
	"github.com/sergeyshmagin/audiopipe/internal/logging"
)

func TestRunWritesTranscript(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	cfg, _ := config.Default()
	cfg.Delivery.Command = "/bin/sh"
	cfg.Delivery.Args = []string{"-c", `printf '%s' "$AUDIOPIPE_TEXT" > ` + out}

	r := NewRunner(cfg, logging.NewTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Run(ctx, Job{Text: "hello world", Source: "a.wav"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("transcript env not passed: %q", got)
	}
}

func TestRunAppendsPrefixedPayload(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	cfg, _ := config.Default()
	cfg.Delivery.Command = "/bin/sh"
	// sh -c binds the appended payload argument to $0.
	cfg.Delivery.Args = []string{"-c", `printf '%s' "$0" > ` + out}
	cfg.Delivery.Prefix = "note: "

	r := NewRunner(cfg, logging.NewTestLogger())
	if err := r.Run(context.Background(), Job{Text: "hi"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "note: hi" {
		t.Fatalf("payload: %q", got)
	}
}

func TestRunFailurePropagates(t *testing.T) {
	cfg, _ := config.Default()
	cfg.Delivery.Command = "/bin/false"

	r := NewRunner(cfg, logging.NewTestLogger())
	err := r.Run(context.Background(), Job{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "delivery failed") {
		t.Fatalf("want delivery failure, got %v", err)
	}
}

func TestRunNoCommand(t *testing.T) {
	cfg, _ := config.Default()
	r := NewRunner(cfg, logging.NewTestLogger())
	if r.Enabled() {
		t.Fatalf("no command configured, must not be enabled")
	}
	if err := r.Run(context.Background(), Job{Text: "x"}); err == nil {
		t.Fatalf("want error for missing command")
	}
}

func TestRunTimeout(t *testing.T) {
	cfg, _ := config.Default()
	cfg.Delivery.Command = "/bin/sh"
	cfg.Delivery.Args = []string{"-c", "sleep 5"}
	cfg.Delivery.TimeoutSec = 0.1

	r := NewRunner(cfg, logging.NewTestLogger())
	start := time.Now()
	if err := r.Run(context.Background(), Job{Text: "x"}); err == nil {
		t.Fatalf("want timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestParseArgs(t *testing.T) {
	args, err := ParseArgs(`-c "two words"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(args) != 2 || args[1] != "two words" {
		t.Fatalf("args: %#v", args)
	}
	empty, err := ParseArgs("   ")
	if err != nil || len(empty) != 0 {
		t.Fatalf("blank input: %#v %v", empty, err)
	}
}
