package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/justmebob123/autonomy-sub000/internal/ai"
	"github.com/justmebob123/autonomy-sub000/internal/analyzers"
	"github.com/justmebob123/autonomy-sub000/internal/events"
	"github.com/justmebob123/autonomy-sub000/internal/refactoring"
	"github.com/justmebob123/autonomy-sub000/internal/storage"
	"github.com/justmebob123/autonomy-sub000/internal/tools"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analyzer sweep and queue tasks, without the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := loadState(cfg)
		if err != nil {
			return err
		}

		var sink events.Sink = events.Discard{}
		if store, err := storage.Open(cfg.DBPath()); err == nil {
			defer store.Close()
			sink = store
		} else {
			fmt.Fprintf(os.Stderr, "Warning: audit database unavailable: %v\n", err)
		}

		reg := analyzers.NewRegistry()
		phase, err := refactoring.New(refactoring.Config{
			Pipeline:  cfg,
			State:     st,
			Chat:      offlineChat{},
			Runner:    tools.NewRunner(cfg.ProjectRoot, cfg.StateDir, reg),
			Analyzers: reg,
			Events:    sink,
		})
		if err != nil {
			return err
		}

		created := phase.Analyze(context.Background())
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s created %d tasks (%d active in queue)\n",
			green("Analysis complete:"), created, st.Tasks.Progress().Total)
		return nil
	},
}

// offlineChat satisfies the phase's model dependency for commands that
// never reach a model turn.
type offlineChat struct{}

func (offlineChat) ChatWithHistory(ctx context.Context, msg string, specs []tools.Spec) (*ai.ChatResult, error) {
	return nil, fmt.Errorf("model calls are not available in offline commands")
}

func (offlineChat) PushToolResults(results []tools.Result) {}
func (offlineChat) ResetHistory()                          {}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
