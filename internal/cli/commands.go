// Package cli holds the audiopipe subcommands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sergeyshmagin/audiopipe/internal/config"
	"github.com/sergeyshmagin/audiopipe/internal/doctor"
	"github.com/sergeyshmagin/audiopipe/internal/hook"
	"github.com/sergeyshmagin/audiopipe/internal/logging"
	"github.com/sergeyshmagin/audiopipe/internal/metrics"
	"github.com/sergeyshmagin/audiopipe/internal/pipeline"
	"github.com/sergeyshmagin/audiopipe/internal/server"
)

func setup(cfgPath string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.Configure(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newPipeline(cfg *config.Config, logger *logrus.Logger) (*pipeline.Pipeline, *prometheus.Registry, error) {
	backend, err := pipeline.NewBackend(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	return pipeline.New(cfg, logger, m, backend), reg, nil
}

// NewTranscribeCmd transcribes a local file or a direct URL and prints the
// result.
func NewTranscribeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <file|url>",
		Short: "Transcribe an audio file or direct URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			p, _, err := newPipeline(cfg, logger)
			if err != nil {
				return err
			}

			opts := pipeline.Options{}
			opts.Language, _ = cmd.Flags().GetString("language")
			opts.NormalizeLoudness, _ = cmd.Flags().GetBool("normalize")
			opts.TrimSilence, _ = cmd.Flags().GetBool("trim-silence")
			asJSON, _ := cmd.Flags().GetBool("json")
			fireHook, _ := cmd.Flags().GetBool("hook")

			source := args[0]
			var out pipeline.Outcome
			if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
				out = p.RunURL(cmd.Context(), source, opts)
			} else {
				raw, err := os.ReadFile(source)
				if err != nil {
					return err
				}
				out = p.Run(cmd.Context(), raw, opts)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else if out.Success {
				fmt.Fprintln(cmd.OutOrStdout(), out.Text)
				for _, f := range out.Failures {
					fmt.Fprintf(cmd.ErrOrStderr(), "segment %d failed: %s\n", f.Index, f.Reason)
				}
			}
			if !out.Success {
				return fmt.Errorf("transcription failed: %s", out.Reason)
			}

			if fireHook {
				r := hook.NewRunner(cfg, logger)
				if !r.Enabled() {
					return fmt.Errorf("--hook requested but delivery.command is not configured")
				}
				return r.Run(cmd.Context(), hook.Job{Text: out.Text, Source: source})
			}
			return nil
		},
	}
	cmd.Flags().String("language", "", "Override the transcription language (BCP-47 tag)")
	cmd.Flags().Bool("normalize", false, "Normalize loudness before transcription")
	cmd.Flags().Bool("trim-silence", false, "Trim leading/trailing silence before transcription")
	cmd.Flags().Bool("json", false, "Print the full outcome as JSON")
	cmd.Flags().Bool("hook", false, "Run the configured delivery command with the transcript")
	return cmd
}

// NewServeCmd runs the HTTP ingest server until interrupted.
func NewServeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve transcription over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			p, reg, err := newPipeline(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.New(cfg, logger, p, reg).ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// NewDoctorCmd runs environment checks.
func NewDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check ffmpeg, credentials and config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			results := doctor.Run(cfg)
			for _, r := range results {
				status := "ok"
				if !r.Pass {
					status = "fail"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %-4s %s\n", r.Name, status, r.Detail)
			}
			if !doctor.Healthy(results) {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}

// NewShowConfigCmd prints the effective configuration as TOML.
func NewShowConfigCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			return config.Write(cfg, cmd.OutOrStdout())
		},
	}
}
