package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/roster"
)

var agentsSwarm string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Print the agent roster with resolved capabilities",
	RunE:  runAgents,
}

func init() {
	agentsCmd.Flags().StringVar(&agentsSwarm, "swarm", "swarm.yaml", "Path to the agent roster file")
}

func runAgents(cmd *cobra.Command, args []string) error {
	specs, err := roster.Load(agentsSwarm)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Printf("%-20s %-12s %-6s %-6s %s\n", "NAME", "TYPE", "SLOTS", "REL", "TAGS")
	for _, spec := range specs {
		caps := spec.Resolve()
		fmt.Printf("%-20s %-12s %-6d %-6.2f %s\n",
			spec.Name, spec.Type, caps.MaxConcurrentTasks, caps.Reliability,
			strings.Join(caps.Tags(), ","))
	}
	fmt.Printf("\n%d agents\n", len(specs))
	return nil
}
