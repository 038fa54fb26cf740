package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/frontdesk/internal/config"
	"github.com/kalambet/frontdesk/internal/knowledge"
	"github.com/kalambet/frontdesk/internal/storage"
)

// --- call ---

var callCmd = &cobra.Command{
	Use:   "call <question>",
	Short: "Ask a question as a caller would",
	Long: `Relay a caller question to the running server. Known questions are
answered from the knowledge base; unknown ones open a help request.

Examples:
  frontdesk call "What are your hours?"
  frontdesk call --phone +15550100 "Do you do balayage?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phone, _ := cmd.Flags().GetString("phone")
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runCall(cmd.Context(), client, question, phone)
	},
}

func init() {
	callCmd.Flags().String("phone", defaultCallerPhone, "caller phone number")
}

const defaultCallerPhone = "+15550100"

func runCall(ctx context.Context, client *apiClient, question, phone string) error {
	res, err := client.incomingCall(ctx, question, phone)
	if err != nil {
		return err
	}
	switch {
	case res.Answered:
		printSuccess("Answered from the knowledge base")
	case res.RequestID != "":
		printStep("Escalated as help request %s", res.RequestID)
	default:
		printWarning("Could not reach a supervisor")
	}
	fmt.Println(res.Message)
	return nil
}

// --- requests ---

var requestsCmd = &cobra.Command{
	Use:     "requests",
	Aliases: []string{"req"},
	Short:   "Manage supervisor help requests",
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List help requests, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		if status != "" && !storage.Status(status).Valid() {
			return fmt.Errorf("invalid --status %q: want pending, resolved or timeout", status)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		requests, err := client.listHelpRequests(cmd.Context(), status)
		if err != nil {
			return err
		}
		if len(requests) == 0 {
			fmt.Println("No help requests.")
			return nil
		}
		for _, hr := range requests {
			writeHelpRequest(os.Stdout, hr)
		}
		return nil
	},
}

var requestsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one help request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		hr, err := client.getHelpRequest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		writeHelpRequest(os.Stdout, hr)
		return nil
	},
}

var requestsResolveCmd = &cobra.Command{
	Use:   "resolve <id> <answer>",
	Short: "Answer a pending help request",
	Long: `Answer a pending help request. The caller is texted the answer and the
question/answer pair is added to the knowledge base.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		answer := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := client.resolveHelpRequest(cmd.Context(), args[0], answer, by)
		if err != nil {
			return err
		}
		printSuccess("Resolved %s by %s", res.Request.ID, res.Request.ResolvedBy)
		printStatus("Learned", "%s", res.Entry.ID)
		return nil
	},
}

func init() {
	requestsListCmd.Flags().String("status", "", "filter by status (pending, resolved, timeout)")
	requestsResolveCmd.Flags().String("by", "", "supervisor name")
	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsShowCmd)
	requestsCmd.AddCommand(requestsResolveCmd)
}

// --- knowledge ---

var knowledgeCmd = &cobra.Command{
	Use:     "knowledge",
	Aliases: []string{"kb"},
	Short:   "Inspect the knowledge base",
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		entries, err := client.ListKnowledge(cmd.Context(), limit, offset)
		if err != nil {
			return err
		}
		return printEntries(entries)
	},
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <question>",
	Short: "Show the candidates and the match for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := client.searchKnowledge(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if res.Match != nil {
			printSuccess("Match: %s", res.Match.Question)
		} else {
			printWarning("No match, the question would be escalated")
		}
		return printEntries(res.Candidates)
	},
}

var knowledgeTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the most used entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		entries, err := client.mostUsed(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printEntries(entries)
	},
}

func printEntries(entries []storage.KnowledgeEntry) error {
	if len(entries) == 0 {
		fmt.Println("No entries.")
		return nil
	}
	for _, e := range entries {
		writeKnowledgeEntry(os.Stdout, e)
	}
	return nil
}

func init() {
	knowledgeListCmd.Flags().Int("limit", 20, "maximum number of entries")
	knowledgeListCmd.Flags().Int("offset", 0, "number of entries to skip")
	knowledgeTopCmd.Flags().Int("limit", storage.DefaultSearchLimit, "maximum number of entries")
	knowledgeCmd.AddCommand(knowledgeListCmd)
	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	knowledgeCmd.AddCommand(knowledgeTopCmd)
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Time out overdue help requests now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := client.checkTimeouts(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Timed out %d help request(s)", n)
		return nil
	},
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Load static knowledge into the local store",
	Long: `Load question/answer pairs into the configured store. Questions already
in the knowledge base are skipped, so seeding twice is harmless.

Accepted formats are .json, .yaml/.yml, .txt and .pdf. Without a file the
built-in salon facts are loaded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		entries := knowledge.DefaultSalon()
		if len(args) == 1 {
			entries, err = knowledge.LoadFile(args[0])
			if err != nil {
				return err
			}
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := knowledge.Seed(cmd.Context(), store, entries)
		if err != nil {
			return err
		}
		printSuccess("Seeded %d entries (%d already known)", res.Inserted, res.Skipped)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		printStatus("Config file", "%s", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
