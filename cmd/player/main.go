package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jscyril/music_stream_engine/internal/config"
	"github.com/jscyril/music_stream_engine/internal/logging"
	"github.com/jscyril/music_stream_engine/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every subcommand shares
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

func newApp(configPath string) (*app, error) {
	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	st, err := store.New(cfg.DataDir,
		store.WithLogger(logger),
		store.WithScanWorkers(cfg.ScanWorkers))
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: st}, nil
}

func (a *app) close() {
	a.store.Close()
	_ = a.logger.Sync()
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "player",
		Short:         "Stream, cache and play audio resources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/musicplayer/config.json)")

	open := func() (*app, error) { return newApp(configPath) }
	root.AddCommand(newPlayCmd(open), newCacheCmd(open))
	return root
}
