package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rustyclint-call",
	Short: "Join a rustyclint editing room's audio/video call from the terminal",
	Long: `rustyclint-call is a headless participant in a rustyclint room call.
It connects to the signaling relay, negotiates a direct media session with
every other participant and prints roster changes as they happen.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
