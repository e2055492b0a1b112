package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/justmebob123/autonomy-sub000/internal/ai"
	"github.com/justmebob123/autonomy-sub000/internal/analysis"
	"github.com/justmebob123/autonomy-sub000/internal/analyzers"
	"github.com/justmebob123/autonomy-sub000/internal/config"
	"github.com/justmebob123/autonomy-sub000/internal/control"
	"github.com/justmebob123/autonomy-sub000/internal/gitutil"
	"github.com/justmebob123/autonomy-sub000/internal/ipc"
	"github.com/justmebob123/autonomy-sub000/internal/pipeline"
	"github.com/justmebob123/autonomy-sub000/internal/refactoring"
	"github.com/justmebob123/autonomy-sub000/internal/state"
	"github.com/justmebob123/autonomy-sub000/internal/storage"
	"github.com/justmebob123/autonomy-sub000/internal/tools"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

var runCycles int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the refactoring pipeline",
	Long: `Run the pipeline loop until the cycle budget is spent or the process
is interrupted. Only one pipeline may run per project at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runCycles > 0 {
			cfg.MaxCycles = runCycles
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lockPath, err := storage.AcquireExclusiveLock(cfg.StatePath(), version)
		if err != nil {
			return fmt.Errorf("another pipeline is active: %w", err)
		}
		defer func() {
			if err := storage.ReleaseExclusiveLock(lockPath); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to release lock: %v\n", err)
			}
		}()

		store, err := storage.Open(cfg.DBPath())
		if err != nil {
			return fmt.Errorf("failed to open audit database: %w", err)
		}
		defer store.Close()

		client, err := ai.NewClient(ai.Config{
			Model:             cfg.Model,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
		if err != nil {
			return err
		}

		st, err := loadState(cfg)
		if err != nil {
			return err
		}

		driver, err := buildPipeline(ctx, cfg, st, client, store)
		if err != nil {
			return err
		}

		// Control socket: lets `autonomy stop` end the run after the
		// cycle in flight instead of killing the process.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ctrl, err := control.NewServer(controlSocket(cfg), func(cmd control.Command) (map[string]interface{}, error) {
			switch cmd.Type {
			case control.CmdStatus:
				prog := st.Tasks.Progress()
				return map[string]interface{}{
					"cycle":        st.Cycle,
					"phase":        st.CurrentPhase,
					"active_tasks": prog.Total,
					"resolved":     prog.Resolved,
					"escalated":    prog.Escalated,
				}, nil
			case control.CmdStop:
				cancel()
				return nil, nil
			}
			return nil, fmt.Errorf("unknown command %q", cmd.Type)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: control socket unavailable: %v\n", err)
		} else if err := ctrl.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: control socket unavailable: %v\n", err)
		} else {
			defer ctrl.Stop()
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n", cyan("=== Autonomy Pipeline ==="))
		fmt.Printf("Project: %s\n", cfg.ProjectRoot)
		fmt.Printf("Model:   %s\n\n", client.Model())

		err = driver.Run(ctx)
		if errors.Is(err, context.Canceled) {
			fmt.Println("\nInterrupted, state saved.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("\nDone after %d cycles.\n", st.Cycle)
		return nil
	},
}

// buildPipeline assembles the phases and driver. Optional collaborators
// (git) degrade with a warning instead of failing the run.
func buildPipeline(ctx context.Context, cfg config.Config, st *state.Pipeline, client *ai.Client, store *storage.Store) (*pipeline.Driver, error) {
	reg := analyzers.NewRegistry()
	channel := ipc.NewChannel(cfg.StatePath())

	git, err := gitutil.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: git unavailable, staleness checks degraded: %v\n", err)
		git = nil
	}

	phase, err := refactoring.New(refactoring.Config{
		Pipeline:  cfg,
		State:     st,
		Chat:      client,
		Runner:    tools.NewRunner(cfg.ProjectRoot, cfg.StateDir, reg),
		Analyzers: reg,
		Tracker:   analysis.NewTracker(st.NewAnalysisStore()),
		Events:    store,
		Git:       git,
		IPC:       channel,
		Archive:   store,
	})
	if err != nil {
		return nil, err
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	return pipeline.New(pipeline.Config{
		State: st,
		Phases: []pipeline.Runner{
			phase,
			pipeline.NewStubPhase("planning", "refactoring", channel, store),
			pipeline.NewStubPhase("coding", "qa", channel, store),
			pipeline.NewStubPhase("qa", "refactoring", channel, store),
		},
		Events:    store,
		MaxCycles: cfg.MaxCycles,
		OnCycle: func(cycle int, res types.PhaseResult) {
			mark := green("✓")
			if !res.Success {
				mark = red("✗")
			}
			fmt.Printf("[%d] %s %s: %s\n", cycle, mark, res.Phase, res.Message)
		},
	})
}

func init() {
	runCmd.Flags().IntVarP(&runCycles, "cycles", "n", 0,
		"maximum pipeline cycles (0 = until interrupted)")
	rootCmd.AddCommand(runCmd)
}
