package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/justmebob123/autonomy-sub000/internal/events"
	"github.com/justmebob123/autonomy-sub000/internal/storage"
)

var (
	eventsTaskID string
	eventsType   string
	eventsLimit  int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent agent events from the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.DBPath())
		if err != nil {
			return fmt.Errorf("failed to open audit database: %w", err)
		}
		defer store.Close()

		list, err := store.ListEvents(context.Background(), storage.EventFilter{
			TaskID: eventsTaskID,
			Type:   events.EventType(eventsType),
			Limit:  eventsLimit,
		})
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No events.")
			return nil
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, e := range list {
			stamp := gray(e.Timestamp.Format("01-02 15:04:05"))
			kind := string(e.Type)
			switch e.Severity {
			case events.SeverityWarning:
				kind = yellow(kind)
			case events.SeverityError:
				kind = red(kind)
			}
			if e.TaskID != "" {
				fmt.Printf("%s %-22s %s  %s\n", stamp, kind, e.TaskID, e.Message)
			} else {
				fmt.Printf("%s %-22s %s\n", stamp, kind, e.Message)
			}
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsTaskID, "task", "", "filter by task ID")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "filter by event type")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "l", 50, "maximum events to show")
	rootCmd.AddCommand(eventsCmd)
}
