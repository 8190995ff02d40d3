package main

import (
	"encoding/json"
	"fmt"

	"ckb/internal/logging"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report ckbd's current status",
	Long:  "Connects to a freshly constructed orchestrator and reports version, uptime, workspace count, and server pool stats as JSON.",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	running, pid, err := o.PIDRunning()
	if err != nil {
		return err
	}
	if !running {
		fmt.Println("ckbd is not running")
		return nil
	}

	status := o.Status()
	status.PID = pid

	encoded, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
