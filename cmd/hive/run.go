package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/coordinator"
	"github.com/ShayCichocki/hive/internal/monitor"
	"github.com/ShayCichocki/hive/internal/roster"
	"github.com/ShayCichocki/hive/internal/supervisor"
	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	runObjective string
	runName      string
	runStrategy  string
	runSwarm     string
	runWatch     bool
	runQuiet     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute an objective against a swarm of agents",
	Long: `Load the configuration and agent roster, create the objective, and drive
it to a terminal state with the built-in simulated runner. Events are
streamed to the terminal while the swarm works.

Exits non-zero unless the objective completes.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runObjective, "objective", "o", "", "Objective description (required)")
	runCmd.Flags().StringVar(&runName, "name", "", "Short objective name (defaults to the description)")
	runCmd.Flags().StringVarP(&runStrategy, "strategy", "s", "", "Decomposition strategy (defaults to config)")
	runCmd.Flags().StringVar(&runSwarm, "swarm", "swarm.yaml", "Path to the agent roster file")
	runCmd.Flags().BoolVar(&runWatch, "watch-roster", false, "Hot-register agents added to the roster during the run")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress the event stream, print only the summary")
	runCmd.MarkFlagRequired("objective")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	specs, err := roster.Load(runSwarm)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("roster %s declares no agents", runSwarm)
	}

	runner := supervisor.NewSimulatedRunner(50*time.Millisecond, 0)
	coord, err := buildEngine(cfg, runner)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	defer coord.Shutdown(context.Background())

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		if _, err := coord.RegisterAgent(spec.Name, spec.Type, spec.Resolve()); err != nil {
			return err
		}
		names = append(names, spec.Name)
	}
	fmt.Printf("Registered %d agents from %s\n", len(specs), runSwarm)

	if runWatch {
		w := roster.NewWatcher(runSwarm, names, coord.RegisterAgent)
		go w.Run(ctx)
	}

	if cfg.Monitor.Path != "" {
		sink, err := os.OpenFile(cfg.Monitor.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open monitor sink: %w", err)
		}
		defer sink.Close()
		go monitor.New(coord, cfg.Monitor.Interval, sink).Run(ctx)
	}

	name := runName
	if name == "" {
		name = runObjective
	}
	objectiveID, err := coord.CreateObjective(name, runObjective, models.Strategy(runStrategy), models.Requirements{})
	if err != nil {
		return err
	}
	if err := coord.ExecuteObjective(objectiveID); err != nil {
		return err
	}

	obj := streamUntilTerminal(coord, objectiveID)
	printSummary(coord, obj)

	if obj == nil || obj.Status != models.ObjectiveCompleted {
		os.Exit(1)
	}
	return nil
}

// streamUntilTerminal echoes events until the objective reaches a terminal
// state, then returns its final record.
func streamUntilTerminal(coord *coordinator.Coordinator, objectiveID string) *models.Objective {
	for ev := range coord.Events() {
		if !runQuiet && ev.Message != "" {
			printEvent(ev)
		}
		switch ev.Type {
		case coordinator.EventObjectiveCompleted, coordinator.EventObjectiveFailed, coordinator.EventObjectiveTimedOut:
			if ev.ObjectiveID == objectiveID {
				return coord.GetObjective(objectiveID)
			}
		}
	}
	return coord.GetObjective(objectiveID)
}

func printEvent(ev coordinator.Event) {
	stamp := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case coordinator.EventTaskCompleted, coordinator.EventObjectiveCompleted:
		fmt.Printf("%s %s %s\n", stamp, color.GreenString("✓"), ev.Message)
	case coordinator.EventTaskExhausted, coordinator.EventObjectiveFailed, coordinator.EventObjectiveTimedOut:
		fmt.Printf("%s %s %s\n", stamp, color.RedString("✗"), ev.Message)
	case coordinator.EventTaskRetried, coordinator.EventAgentSuspended, coordinator.EventNoEligibleAgent:
		fmt.Printf("%s %s %s\n", stamp, color.YellowString("⚠"), ev.Message)
	default:
		fmt.Printf("%s • %s\n", stamp, ev.Message)
	}
}

func printSummary(coord *coordinator.Coordinator, obj *models.Objective) {
	if obj == nil {
		fmt.Println(color.RedString("objective lost"))
		return
	}

	st := coord.GetSwarmStatus()
	var banner string
	switch obj.Status {
	case models.ObjectiveCompleted:
		banner = color.GreenString("COMPLETED")
	case models.ObjectiveTimedOut:
		banner = color.YellowString("TIMED OUT")
	default:
		banner = color.RedString(string(obj.Status))
	}

	fmt.Printf("\nObjective %s (%s): %s\n", obj.ID, obj.Name, banner)
	fmt.Printf("  tasks: %d completed, %d failed, %d total\n",
		st.Tasks.Completed, st.Tasks.Failed, st.Tasks.Total)
	fmt.Printf("  agents: %d (%d idle, %d busy, %d unavailable)\n",
		st.Agents.Total, st.Agents.Idle, st.Agents.Busy, st.Agents.Unavailable)
	if obj.Error != "" {
		fmt.Printf("  error: %s\n", obj.Error)
	}
	if obj.StartedAt != nil && obj.CompletedAt != nil {
		fmt.Printf("  duration: %s\n", obj.CompletedAt.Sub(*obj.StartedAt).Round(time.Millisecond))
	}
}
