package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onnwee/merchbot/tasks"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a tasks file",
	Long: `Validate a merchbot tasks file without starting the bot.

The file is parsed strictly, environment variables in sources are expanded,
and every definition is checked. Useful as a CI or pre-deploy step.

Exit codes:
  0 - File is valid
  1 - File is invalid (error details printed to stderr)`,
	Example: "  merchctl validate -f tasks.yaml",
	RunE:    runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("file", "f", "tasks.yaml", "path to tasks file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	defs, err := tasks.LoadFile(path)
	if err != nil {
		return fmt.Errorf("invalid tasks file: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tasks file is valid! (%d tasks)\n", len(defs))
	for _, d := range defs {
		trigger, _ := d.Trigger()
		fmt.Fprintf(out, "  %-24s %-9s %-30s %s\n", d.ID, d.Kind, d.Source, trigger)
	}
	return nil
}
