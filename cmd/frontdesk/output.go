package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kalambet/frontdesk/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func statusColor(s storage.Status) string {
	switch s {
	case storage.StatusPending:
		return colorize(colorYellow, string(s))
	case storage.StatusResolved:
		return colorize(colorGreen, string(s))
	default:
		return colorize(colorRed, string(s))
	}
}

func writeHelpRequest(w io.Writer, hr storage.HelpRequest) {
	fmt.Fprintf(w, "%s [%s]\n", colorize(colorBold, hr.ID), statusColor(hr.Status))
	fmt.Fprintf(w, "  Question: %s\n", hr.Question)
	fmt.Fprintf(w, "  Caller:   %s\n", hr.CallerPhone)
	fmt.Fprintf(w, "  Created:  %s\n", hr.CreatedAt.Local().Format(time.DateTime))
	switch hr.Status {
	case storage.StatusPending:
		fmt.Fprintf(w, "  Due:      %s\n", hr.TimeoutAt.Local().Format(time.DateTime))
	case storage.StatusResolved:
		fmt.Fprintf(w, "  Answer:   %s\n", hr.Answer)
		if hr.ResolvedAt != nil {
			fmt.Fprintf(w, "  Resolved: %s by %s\n", hr.ResolvedAt.Local().Format(time.DateTime), hr.ResolvedBy)
		}
	}
}

func writeKnowledgeEntry(w io.Writer, e storage.KnowledgeEntry) {
	fmt.Fprintf(w, "%s (used %d)\n", colorize(colorBold, e.Question), e.UsageCount)
	fmt.Fprintf(w, "  %s\n", e.Answer)
}
