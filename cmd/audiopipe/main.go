package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergeyshmagin/audiopipe/internal/cli"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cobra.Command{
		Use:   "audiopipe",
		Short: "audiopipe — batch audio ingestion and transcription",
		Long: `Audiopipe normalizes arbitrary audio with ffmpeg, splits long recordings
into bounded segments, transcribes them against a speech-to-text API with
retry handling, and assembles the per-segment results into one transcript.

Key commands:
  transcribe <file|url>   One-shot transcription to stdout
  serve                   HTTP ingest server (/v1/transcribe, /metrics)
  doctor                  Check ffmpeg, credentials and config
  show-config             Print the effective configuration

Env overrides: AUDIOPIPE_API_KEY, AUDIOPIPE_ENDPOINT, AUDIOPIPE_LANGUAGE,
               AUDIOPIPE_LOG_LEVEL, AUDIOPIPE_LOG_FORMAT`,
		Example: `  audiopipe transcribe meeting.m4a
  audiopipe transcribe https://cdn.example.com/call.mp3 --language de --json
  audiopipe transcribe note.wav --hook
  audiopipe serve --addr 127.0.0.1:8642
  audiopipe doctor`,
		DisableFlagsInUseLine: true,
	}

	root.Version = version
	root.SetVersionTemplate("audiopipe v{{.Version}}\n")
	root.CompletionOptions.DisableDefaultCmd = true

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/audiopipe/config.toml")

	root.AddCommand(cli.NewTranscribeCmd(cfgPath))
	root.AddCommand(cli.NewServeCmd(cfgPath))
	root.AddCommand(cli.NewDoctorCmd(cfgPath))
	root.AddCommand(cli.NewShowConfigCmd(cfgPath))

	return root.Execute()
}
