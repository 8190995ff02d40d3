package main

import (
	"context"
	"encoding/json"
	"fmt"

	"ckb/internal/logging"

	"github.com/spf13/cobra"
)

var indexScanPath string

var indexCmd = &cobra.Command{
	Use:   "index <workspace-root>",
	Short: "Run one incremental analysis pass over a workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexScanPath, "scan-path", "", "Subdirectory to scan (default: workspace root)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.InfoLevel})

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

	root := args[0]
	scanPath := indexScanPath
	if scanPath == "" {
		scanPath = root
	}

	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		return err
	}
	defer o.Stop(ctx)

	id := o.RegisterWorkspace(root)
	result, err := o.StartIndexing(ctx, id, scanPath)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
