// Package main is the entry point for the merchctl CLI.
//
// merchctl works with merchbot task files and sources without starting the
// bot.
//
// Usage:
//
//	merchctl validate -f tasks.yaml            # Validate a tasks file
//	merchctl probe --kind campaign summer-tee  # Fetch one reading
//	merchctl version                           # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "merchctl",
	Short: "Inspect merchbot task files and sources",
	Long: `merchctl checks merchbot configuration offline.

It validates tasks files the same way the bot loads them and probes a
campaign page or channel once, printing the reading the bot would see.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "merchctl %s (commit %s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
