package main

import (
	"context"
	"encoding/json"
	"fmt"

	"ckb/internal/logging"
	"ckb/internal/orchestrator"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear a workspace's symbol/call-hierarchy cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info <workspace-root>",
	Short: "Show cache stats for a workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheInfo,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <workspace-root>",
	Short: "Clear a workspace's cache entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	o, err := buildCLIOrchestrator()
	if err != nil {
		return err
	}

	id := o.RegisterWorkspace(args[0])
	info, err := o.CacheInfo(context.Background(), id)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	o, err := buildCLIOrchestrator()
	if err != nil {
		return err
	}

	id := o.RegisterWorkspace(args[0])
	if err := o.CacheClear(context.Background(), id); err != nil {
		return err
	}
	fmt.Printf("cache cleared for %s\n", id)
	return nil
}

// buildCLIOrchestrator loads config and state dir the way every ckbd
// subcommand does, so each RunE stays a few lines of orchestrator calls.
func buildCLIOrchestrator() (*orchestrator.Orchestrator, error) {
	logger := logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel})

	cfg, err := loadCkbdConfig()
	if err != nil {
		return nil, err
	}
	stateDir, err := resolveStateDir()
	if err != nil {
		return nil, err
	}

	o, err := buildOrchestrator(cfg, stateDir, logger)
	if err != nil {
		return nil, err
	}
	return o, nil
}
