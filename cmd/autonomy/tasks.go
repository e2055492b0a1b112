package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/justmebob123/autonomy-sub000/internal/types"
)

var tasksStatusFilter string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List refactoring tasks in the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := loadState(cfg)
		if err != nil {
			return err
		}

		list := st.Tasks.All()
		if tasksStatusFilter != "" {
			status := types.TaskStatus(tasksStatusFilter)
			if !status.IsValid() {
				return fmt.Errorf("unknown status %q", tasksStatusFilter)
			}
			list = st.Tasks.ByStatus(status)
		}
		if len(list) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, t := range list {
			mark := gray("○")
			switch t.Status {
			case types.StatusCompleted:
				mark = green("●")
			case types.StatusFailed:
				mark = red("●")
			case types.StatusInProgress:
				mark = yellow("●")
			case types.StatusBlocked:
				mark = red("◐")
			}
			fmt.Printf("%s %s [%s/%s] %s (attempt %d/%d)\n",
				mark, t.ID, t.Type, t.Priority, t.Title, t.Attempts, t.MaxAttempts)
			for _, f := range t.TargetFiles {
				fmt.Printf("    %s\n", gray(f))
			}
			if len(t.DependsOn) > 0 {
				fmt.Printf("    depends on: %v\n", t.DependsOn)
			}
		}
		return nil
	},
}

func init() {
	tasksCmd.Flags().StringVarP(&tasksStatusFilter, "status", "s", "",
		"filter by status (new, in_progress, completed, failed, blocked)")
	rootCmd.AddCommand(tasksCmd)
}
