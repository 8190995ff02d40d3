package main

import (
	"ckb/internal/version"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ckbd",
	Short: "ckbd - multi-workspace code knowledge daemon",
	Long: `ckbd is a long-lived daemon that pools language server processes across
many workspaces, keeps a per-workspace call-graph and symbol cache warm, and
incrementally re-indexes files as they change.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("ckbd version {{.Version}}\n")
}
