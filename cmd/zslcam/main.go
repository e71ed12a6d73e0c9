// Package main is the entry point for the zslcam camera daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-frameshare/internal/config"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "zslcam",
		Short:         "Zero-shutter-lag camera daemon with live preview and still capture",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), runCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "zslcam %s (commit: %s)\n", version, commit)
		},
	}
}

func runCmd() *cobra.Command {
	var (
		cfgPath       string
		statsInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sensor, preview and capture pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Log, os.Stderr)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger, statsInterval)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file (defaults apply when empty)")
	cmd.Flags().DurationVar(&statsInterval, "stats-interval", 0, "Print pipeline statistics at this interval (0 disables)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration OK")
			fmt.Fprintf(out, "  sensor:  %s %dx%d %s @ %.1f fps\n",
				cfg.Sensor.Source, cfg.Sensor.Width, cfg.Sensor.Height, cfg.Sensor.Format, cfg.Sensor.FPS)
			fmt.Fprintf(out, "  reader:  %d images (%d reserved), zsl ring %d\n",
				cfg.Reader.MaxImages, cfg.Reader.Reserved, cfg.Reader.ZSLRingSize)
			schedule := cfg.Capture.Schedule
			if schedule == "" {
				schedule = "disabled"
			}
			fmt.Fprintf(out, "  capture: %s -> %s (%s)\n", schedule, cfg.Capture.OutputDir, cfg.Capture.Encoding)
			fmt.Fprintf(out, "  http:    %s\n", cfg.HTTP.Listen)
			return nil
		},
	})
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// run starts the pipeline and the admin server and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, statsInterval time.Duration) error {
	printBanner(cfg)

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		_ = p.Stop(context.Background())
		return err
	}

	srv, err := newAdminServer(cfg.HTTP.Listen, p, logger)
	if err != nil {
		_ = p.Stop(context.Background())
		return err
	}
	if err := srv.Start(); err != nil {
		_ = p.Stop(context.Background())
		return err
	}

	if statsInterval > 0 {
		go reportStats(ctx, statsInterval, p)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping gracefully")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = errors.Join(srv.Stop(stopCtx), p.Stop(stopCtx))
	printFinalStats(p)
	return err
}
