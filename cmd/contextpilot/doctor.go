package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contextpilot/contextpilot/internal/guard"
	"github.com/contextpilot/contextpilot/internal/llm"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check provider authentication and streaming with one model per provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		var checks []guard.ProviderCheck
		seen := map[llm.Provider]bool{}
		for name, info := range llm.Roster {
			if seen[info.Provider] {
				continue
			}
			seen[info.Provider] = true
			client, _, err := clientFor(name)
			if err != nil {
				continue
			}
			checks = append(checks, guard.ProviderCheck{Name: string(info.Provider), Client: client, Model: name})
		}

		results := guard.RunDoctor(cmd.Context(), checks)
		fmt.Fprint(cmd.OutOrStdout(), guard.Summary(results))

		for _, r := range results {
			if !r.Result.AllOK() {
				return fmt.Errorf("one or more providers failed health checks")
			}
		}
		return nil
	},
}
