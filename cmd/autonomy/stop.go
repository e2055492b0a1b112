package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/justmebob123/autonomy-sub000/internal/config"
	"github.com/justmebob123/autonomy-sub000/internal/control"
)

// controlSocket is the per-project control socket path.
func controlSocket(cfg config.Config) string {
	return filepath.Join(cfg.StatePath(), "control.sock")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running pipeline to finish its cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := control.NewClient(controlSocket(cfg))
		resp, err := client.Stop("stop requested from CLI")
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("pipeline refused: %s", resp.Error)
		}
		fmt.Println("Stop requested; the pipeline will exit after the current cycle.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
