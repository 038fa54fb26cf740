package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/frontdesk/internal/knowledge"
	"github.com/kalambet/frontdesk/internal/matcher"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play a caller against the running server",
	Long: `Start an interactive caller session. Each line is a question.

Questions are first matched against a local copy of the knowledge base; only
misses go to the server, which may escalate them to a supervisor. Type
"reload" to refresh the local copy and "exit" to hang up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		phone, _ := cmd.Flags().GetString("phone")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		sim := newSimulator(client, os.Stdin, os.Stdout, phone)
		return sim.run(cmd.Context())
	},
}

func init() {
	simulateCmd.Flags().String("phone", defaultCallerPhone, "caller phone number")
}

const greeting = "Thanks for calling! How can I help you today?"

// simulator is a line-oriented caller. It owns the knowledge cache; the
// server never sees questions the cache can answer.
type simulator struct {
	in      io.Reader
	out     io.Writer
	client  *apiClient
	cache   *knowledge.Cache
	matcher matcher.Matcher
	phone   string
}

func newSimulator(client *apiClient, in io.Reader, out io.Writer, phone string) *simulator {
	return &simulator{
		in:      in,
		out:     out,
		client:  client,
		cache:   knowledge.NewCache(client),
		matcher: matcher.Default,
		phone:   phone,
	}
}

func (s *simulator) run(ctx context.Context) error {
	fmt.Fprintln(s.out, colorize(colorCyan, "agent> ")+greeting)

	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, colorize(colorBold, "caller> "))
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit", "bye":
			s.say("Thanks for calling, goodbye!")
			return nil
		case "reload":
			s.cache.Invalidate()
			entries, err := s.cache.Entries(ctx)
			if err != nil {
				printError("reloading knowledge: %v", err)
				continue
			}
			printStep("Loaded %d knowledge entries", len(entries))
			continue
		}

		if err := s.ask(ctx, line); err != nil {
			return err
		}
	}
}

// ask answers from the cache when it can, otherwise relays the question.
// Only transport failures are returned; server-side errors are reported and
// the session continues.
func (s *simulator) ask(ctx context.Context, question string) error {
	entry, ok, err := s.cache.Match(ctx, question, s.matcher)
	if err != nil {
		printWarning("knowledge cache unavailable: %v", err)
	}
	if ok {
		s.say(entry.Answer)
		return nil
	}

	res, err := s.client.incomingCall(ctx, question, s.phone)
	if err != nil {
		if strings.Contains(err.Error(), "not reachable") {
			return err
		}
		printError("%v", err)
		return nil
	}

	switch res.Status {
	case http.StatusOK:
		// The server knows something the cache does not.
		s.cache.Invalidate()
	case http.StatusCreated:
		printStep("Help request %s opened", res.RequestID)
	}
	s.say(res.Message)
	return nil
}

func (s *simulator) say(text string) {
	fmt.Fprintln(s.out, colorize(colorCyan, "agent> ")+text)
}
