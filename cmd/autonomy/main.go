package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/justmebob123/autonomy-sub000/internal/config"
	"github.com/justmebob123/autonomy-sub000/internal/state"
)

const version = "0.3.0"

var projectRoot string

var rootCmd = &cobra.Command{
	Use:   "autonomy",
	Short: "Autonomous refactoring pipeline",
	Long: `autonomy runs a self-directed refactoring pipeline over a codebase:
analyzers find structural issues, an AI agent investigates and resolves
them under a mandatory-analysis protocol, and everything it cannot fix
is escalated to a human with a written report.`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectRoot, "project", "p", ".",
		"project root to operate on")
}

// loadConfig resolves the project root and loads layered configuration.
func loadConfig() (config.Config, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return config.Config{}, fmt.Errorf("bad project root %q: %w", projectRoot, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return config.Config{}, fmt.Errorf("project root %s is not a directory", root)
	}
	return config.Load(root)
}

// loadState loads the persisted pipeline state for the project.
func loadState(cfg config.Config) (*state.Pipeline, error) {
	return state.Load(cfg.StatePath())
}
