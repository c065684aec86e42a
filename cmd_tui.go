package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"librarydesk/internal/desk"
	"librarydesk/internal/logging"
	"librarydesk/internal/tui"
	"librarydesk/internal/worker"
)

var tuiLogFile string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open one library desk in the terminal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := logging.NewFile(cfg.Logging, verbose, tuiLogFile)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		dispatcher := worker.NewDispatcher(dispatcherConfig(cfg), logger.Named("worker"))
		defer dispatcher.Stop()

		// the terminal desk lives as long as the program, so no idle sweeping
		registry := desk.NewRegistry(backendFactory(cfg, logger), dispatcher, deskOptions(cfg, logger.Named("desk")), 0)
		defer registry.CloseAll()

		d, err := registry.Create()
		if err != nil {
			return fmt.Errorf("open desk: %w", err)
		}
		logger.Info("terminal desk opened", zap.String("desk", d.ID()), zap.String("backend", cfg.Backend.BaseURL))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return tui.Run(ctx, d)
	},
}
