package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overwritten at release build time via -ldflags.
var Version = "dev"

var rootRoot string

var rootCmd = &cobra.Command{
	Use:   "contextpilot",
	Short: "An LLM coding-agent engine: turn loop, panel cache, and tool modules",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootRoot, "root", ".", "workspace root containing .context-pilot/")
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
