// The hlsmerge command remuxes an HLS playlist into a single file, working
// around non-monotonous DTS between segments by merging in chunks.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agleyzer/hlsmerge/internal/config"
	"github.com/agleyzer/hlsmerge/internal/merge"
	"github.com/agleyzer/hlsmerge/internal/remux"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliOptions collects flag values before they are layered over the config
// file.
type cliOptions struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "hlsmerge [flags] <playlist> <output>",
		Short: "Merge an HLS media playlist into one file",
		Long: `hlsmerge stream-copies the segments of an HLS media playlist into a single
output file. When ffmpeg reports non-monotonous DTS partway through, the
playlist is split at the offending segment, each part is remuxed on its own
and the parts are concatenated at the end.

The playlist may be a local path or an http(s) URL.`,
		Example: `  hlsmerge show/index.m3u8 show.mp4
  hlsmerge --work-dir /tmp/show --cleanup https://example.com/vod/index.m3u8 show.mp4
  hlsmerge --revalidate-prefix --progress --engine-log ffmpeg.log index.m3u8 out.mp4`,
		Args:          cobra.ExactArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}

			logger := newLogger(cfg.Verbose)
			logger.Info("hlsmerge starting", "version", version)

			if err := run(cmd.Context(), cfg, args[0], args[1], logger); err != nil {
				logger.Error("merge failed", "error", err)
				return err
			}
			return nil
		},
	}

	bindFlags(cmd, opts)
	return cmd
}

func bindFlags(cmd *cobra.Command, opts *cliOptions) {
	defaults := config.Defaults()

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.StringVar(&opts.cfg.FFmpegPath, "ffmpeg", defaults.FFmpegPath, "ffmpeg binary")
	f.StringVar(&opts.cfg.EngineLogLevel, "engine-log-level", defaults.EngineLogLevel, "ffmpeg -loglevel (info or more verbose)")
	f.StringVar(&opts.cfg.EngineLog, "engine-log", "", "write ffmpeg diagnostics to this file instead of stderr")
	f.StringVar(&opts.cfg.WorkDir, "work-dir", "", "directory for working playlists and chunks (default: playlist directory)")
	f.BoolVar(&opts.cfg.RevalidatePrefix, "revalidate-prefix", false, "re-check the prefix left by each split and split it again if needed")
	f.BoolVar(&opts.cfg.Cleanup, "cleanup", false, "remove working files after a successful merge")
	f.BoolVar(&opts.cfg.Verbose, "verbose", false, "enable verbose logging")
	f.BoolVar(&opts.cfg.Progress, "progress", false, "show a progress bar")
}

// resolve layers flags that were set explicitly over the config file.
func (o *cliOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Defaults()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("ffmpeg") {
		cfg.FFmpegPath = o.cfg.FFmpegPath
	}
	if f.Changed("engine-log-level") {
		cfg.EngineLogLevel = o.cfg.EngineLogLevel
	}
	if f.Changed("engine-log") {
		cfg.EngineLog = o.cfg.EngineLog
	}
	if f.Changed("work-dir") {
		cfg.WorkDir = o.cfg.WorkDir
	}
	if f.Changed("revalidate-prefix") {
		cfg.RevalidatePrefix = o.cfg.RevalidatePrefix
	}
	if f.Changed("cleanup") {
		cfg.Cleanup = o.cfg.Cleanup
	}
	if f.Changed("verbose") {
		cfg.Verbose = o.cfg.Verbose
	}
	if f.Changed("progress") {
		cfg.Progress = o.cfg.Progress
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

func run(ctx context.Context, cfg config.Config, source, output string, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup signal handling; cancellation kills the running ffmpeg
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var diag io.Writer = os.Stderr
	if cfg.EngineLog != "" {
		f, err := os.OpenFile(cfg.EngineLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open engine log: %w", err)
		}
		defer f.Close()
		diag = f
	}

	engine := remux.New(remux.Options{
		FFmpegPath:  cfg.FFmpegPath,
		LogLevel:    cfg.EngineLogLevel,
		Diagnostics: diag,
	}, logger)

	opts := merge.Options{
		WorkDir:          cfg.WorkDir,
		RevalidatePrefix: cfg.RevalidatePrefix,
		Cleanup:          cfg.Cleanup,
	}

	var bar *progressbar.ProgressBar
	if cfg.Progress {
		opts.Progress = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("segments merged"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
				)
			}
			bar.Set(done)
		}
	}

	res, err := merge.New(engine, opts, logger).Merge(ctx, source, output)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	logger.Info("merge complete",
		"output", res.Output,
		"chunks", len(res.Chunks),
		"splits", res.Splits,
	)
	if res.Unvalidated > 0 {
		logger.Warn("some chunks were kept without revalidation, rerun with --revalidate-prefix to check them",
			"chunks", res.Unvalidated,
		)
	}
	return nil
}
