package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs",
	Long:  `Display terminal objective records from the persisted run history.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "How many runs to show (0 for all)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := cfg.MemoryDBPath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No run history. Start one with 'hive run' and memory.persistence enabled.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	runs, err := state.NewRunStore(db).ListRuns(statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	bold := color.New(color.Bold)
	bold.Printf("%-10s %-24s %-13s %-10s %s\n", "ID", "NAME", "STRATEGY", "STATUS", "TASKS")
	for _, r := range runs {
		name := r.Name
		if len(name) > 22 {
			name = name[:22] + "…"
		}
		fmt.Printf("%-10s %-24s %-13s %-10s %d/%d completed, %d failed\n",
			r.ID, name, r.Strategy, colorStatus(r.Status),
			r.TasksCompleted, r.TasksTotal, r.TasksFailed)
	}
	return nil
}

func colorStatus(s models.ObjectiveStatus) string {
	switch s {
	case models.ObjectiveCompleted:
		return color.GreenString(string(s))
	case models.ObjectiveTimedOut:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}
