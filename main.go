package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"librarydesk/internal/config"
	"librarydesk/internal/desk"
	"librarydesk/internal/library"
	"librarydesk/internal/worker"
)

var (
	configPath string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "librarydesk",
	Short: "Library desk: borrow, return and ask the librarian bot",
	Long: `librarydesk serves the library front end on top of the library REST backend.

Run without arguments to start the web server. Use "librarydesk tui" for the
terminal client.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = os.Getenv("LIBRARYDESK_CONFIG")
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (json or yaml, env LIBRARYDESK_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides basic_config.server_address")
	tuiCmd.Flags().StringVar(&tuiLogFile, "log-file", "", "write logs to this file (logging is off otherwise)")

	rootCmd.AddCommand(serveCmd, tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dispatcherConfig(c *config.Config) worker.DispatcherConfig {
	return worker.DispatcherConfig{
		MinWorkers:  c.BasicConfig.MinWorkers,
		MaxWorkers:  c.BasicConfig.MaxWorkers,
		QueueSize:   c.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(c.BasicConfig.WorkerIdleTimeout) * time.Second,
	}
}

func deskOptions(c *config.Config, logger *zap.Logger) desk.Options {
	return desk.Options{
		Locale:  c.Desk.Locale,
		Welcome: c.Desk.WelcomeMessage,
		Logger:  logger,
	}
}

// backendFactory gives every desk its own client and cookie jar.
func backendFactory(c *config.Config, logger *zap.Logger) desk.BackendFactory {
	return func() (desk.Backend, error) {
		client, err := library.NewClientFromConfig(c.Backend, logger.Named("library"))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
