package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/contextpilot/contextpilot/internal/config"
	"github.com/contextpilot/contextpilot/internal/console"
	"github.com/contextpilot/contextpilot/internal/logx"
)

func init() {
	consoleCmd.AddCommand(consoleServeCmd)
	rootCmd.AddCommand(consoleCmd)
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Console daemon management",
}

var consoleServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the console daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rootRoot)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logDir := filepath.Join(rootRoot, config.Dir, "console", "logs")
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", logDir, err)
		}
		logFile, err := os.OpenFile(filepath.Join(logDir, "daemon.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("opening daemon log: %w", err)
		}
		defer logFile.Close()

		logger := logx.NewDaemon(logFile, logx.ParseLevel(cfg.LogLevel))

		socketPath := filepath.Join(rootRoot, cfg.ConsoleSocketPath)
		pidPath := filepath.Join(rootRoot, config.Dir, "console", "daemon.pid")
		if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(socketPath), err)
		}

		d := console.NewDaemon(socketPath, pidPath, logger)
		return d.Serve()
	},
}
