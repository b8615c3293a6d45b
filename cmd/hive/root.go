package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Swarm coordination engine",
	Long: `Hive coordinates a pool of autonomous agents that cooperatively execute
a decomposed objective: the objective is split into tasks, tasks are assigned
to agents matching required capabilities, execution is fault-tolerant and
load-balanced, and results accumulate in a shared memory store.

Start a run with 'hive run', inspect past runs with 'hive status', and move
memory snapshots with 'hive memory export/import'.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration from the --config flag or the default
// XDG/project/env chain.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a hive config file (overrides the default chain)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}
