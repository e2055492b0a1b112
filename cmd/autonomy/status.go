package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/justmebob123/autonomy-sub000/internal/storage"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state and queue progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := loadState(cfg)
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Pipeline Status ==="))
		fmt.Printf("Project:       %s\n", cfg.ProjectRoot)
		fmt.Printf("Current phase: %s\n", st.CurrentPhase)
		fmt.Printf("Cycles run:    %d\n", st.Cycle)
		if st.LastAnalysis != nil {
			fmt.Printf("Last analysis: %s\n", st.LastAnalysis.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("Last analysis: %s\n", gray("never"))
		}

		prog := st.Tasks.Progress()
		fmt.Printf("\n%s\n", yellow("Task Queue:"))
		fmt.Printf("  Active:          %d\n", prog.Total)
		for _, status := range []types.TaskStatus{
			types.StatusNew, types.StatusInProgress, types.StatusCompleted,
			types.StatusFailed, types.StatusBlocked,
		} {
			if n := prog.ByStatus[status]; n > 0 {
				fmt.Printf("    %-12s %d\n", status+":", n)
			}
		}
		fmt.Printf("  Resolved:        %d\n", prog.Resolved)
		fmt.Printf("  Escalated:       %d\n", prog.Escalated)
		fmt.Printf("  False positives: %d\n", prog.FalsePositives)

		// Archive counts from the audit database, when one exists.
		if _, err := os.Stat(cfg.DBPath()); err == nil {
			store, err := storage.Open(cfg.DBPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not open audit database: %v\n", err)
				return nil
			}
			defer store.Close()
			counts, err := store.CountArchivedByStatus(context.Background())
			if err == nil && len(counts) > 0 {
				fmt.Printf("\n%s\n", yellow("Archived Tasks:"))
				for status, n := range counts {
					fmt.Printf("  %-12s %d\n", status+":", n)
				}
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
