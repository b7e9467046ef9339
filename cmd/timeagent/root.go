package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"time-agent/internal/app"
	"time-agent/internal/config"
)

var (
	envFile  string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "timeagent",
	Short: "Time-coordination A2A agent",
	Long: `timeagent interprets natural-language time expressions, converts them
across time zones and resolves Slack IDs to time zones.

Usage:
  timeagent serve                       Serve the JSON-RPC endpoint over HTTP
  timeagent listen                      Answer JSON-RPC requests over NATS
  timeagent convert "3pm NY in London"  Run a one-shot conversion
  timeagent profiles import users.csv   Load a profile CSV into PROFILE_TABLE`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		var err error
		cfg, err = config.Load(files...)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger, err = app.NewLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default ./.env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")

	rootCmd.AddCommand(serveCmd, listenCmd, convertCmd, profilesCmd)
}
