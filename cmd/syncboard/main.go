// Command syncboard runs the collaborative whiteboard server and provides
// small client tools for inspecting and drawing on rooms.
//
//	syncboard serve --config syncboard.yaml
//	syncboard snapshot --room lobby
//	syncboard draw --room lobby --tool rectangle --points "10,10 60,40"
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mitmirani09/syncboard/internal/config"
)

var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "syncboard",
		Short:         "Real-time collaborative whiteboard server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SYNCBOARD_CONFIG"),
		"Path to YAML configuration file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger, err := newLogger(cfg.Logging, os.Stderr)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(logger)
		return cfg, nil
	}

	rootCmd.AddCommand(
		buildServeCmd(load),
		buildSnapshotCmd(),
		buildClearCmd(),
		buildDrawCmd(),
		buildDiscoverCmd(),
	)
	return rootCmd
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid logging.format %q", cfg.Format)
	}
}
