package main

import (
	"encoding/json"
	"fmt"

	"ckb/internal/logging"

	"github.com/spf13/cobra"
)

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "List workspaces registered with a locally constructed orchestrator",
	RunE:  runWorkspaces,
}

func init() {
	rootCmd.AddCommand(workspacesCmd)
}

func runWorkspaces(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel})

	cfg, err := loadCkbdConfig()
	if err != nil {
		return err
	}
	stateDir, err := resolveStateDir()
	if err != nil {
		return err
	}

	o, err := buildOrchestrator(cfg, stateDir, logger)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(o.ListWorkspaces(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
