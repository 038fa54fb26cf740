package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "frontdesk",
	Short: "Salon receptionist escalation engine",
	Long: `frontdesk answers caller questions from a knowledge base, escalates
unknown questions to a supervisor and learns from the supervisor's answers.

Run "frontdesk serve" to start the API, then use the other commands to
place calls, resolve help requests and inspect the knowledge base.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(requestsCmd)
	rootCmd.AddCommand(knowledgeCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
