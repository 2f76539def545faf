// Package cli implements the chorus command-line interface.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/chorusbot/chorus/internal/cli.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		"       _\n" +
		"   ___| |__   ___  _ __ _   _ ___\n" +
		"  / __| '_ \\ / _ \\| '__| | | / __|\n" +
		" | (__| | | | (_) | |  | |_| \\__ \\\n" +
		"  \\___|_| |_|\\___/|_|   \\__,_|___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "chorus",
	Short: "chorus - response arbitration for cooperating chat agents",
	Long:  color.CyanString(logo) + "\nDecides when a chat agent speaks, who owns a room, and how fast replies flow.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("Version")
		fmt.Printf("Version: %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(doctorCmd)
}
