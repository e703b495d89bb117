package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Veraticus/under-the-hammer/internal/cli"
	"github.com/Veraticus/under-the-hammer/internal/config"
	"github.com/Veraticus/under-the-hammer/internal/service"
	"github.com/Veraticus/under-the-hammer/internal/sorter"
	"github.com/Veraticus/under-the-hammer/internal/tui"
)

func threadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List threads by who owes a reply",
		Long: `Show the focus list (threads where you owe a reply) or the waiting
list (threads where the other party does). The focus list is always
shown whole; the waiting list pages.

Pass --interactive for the full-screen browser.`,
		RunE: runThreads,
	}

	// Flags
	cmd.Flags().Bool("waiting", false, "show the waiting list instead of focus")
	cmd.Flags().Bool("risk-only", false, "waiting list only: show just at-risk threads")
	cmd.Flags().Int("limit", 25, "waiting list page size")
	cmd.Flags().Int("offset", 0, "waiting list page offset")
	cmd.Flags().BoolP("interactive", "i", false, "open the interactive browser")

	return cmd
}

func runThreads(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, err := requireUser()
	if err != nil {
		return err
	}

	waiting, _ := cmd.Flags().GetBool("waiting")
	riskOnly, _ := cmd.Flags().GetBool("risk-only")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	interactive, _ := cmd.Flags().GetBool("interactive")

	if riskOnly && !waiting {
		return fmt.Errorf("--risk-only applies to the waiting list: pass --waiting too")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	lister := sorter.New(store)

	if interactive {
		return tui.Run(ctx, tui.Config{
			Lister:   lister,
			UserID:   userID,
			PageSize: limit,
		})
	}

	var page *service.ThreadPage
	if waiting {
		page, err = lister.WaitingList(ctx, userID, riskOnly, limit, offset)
	} else {
		page, err = lister.FocusList(ctx, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}

	counts, err := lister.Counts(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count threads: %w", err)
	}

	return printThreadPage(page, counts, waiting, riskOnly)
}

func printThreadPage(page *service.ThreadPage, counts *service.ThreadCounts, waiting, riskOnly bool) error {
	title := "🔨 Focus"
	if waiting {
		title = "🔨 Waiting"
		if riskOnly {
			title = "🔨 Waiting (at risk)"
		}
	}
	countsLine := cli.SubtleStyle.Render(fmt.Sprintf("Focus %d · Waiting %d · %d at risk",
		counts.Focus, counts.Waiting, counts.AtRisk))

	fmt.Println(cli.FormatTitle(title)) //nolint:forbidigo // User-facing output
	fmt.Println(countsLine)             //nolint:forbidigo // User-facing output
	fmt.Println()                       //nolint:forbidigo // User-facing output

	if len(page.Threads) == 0 {
		msg := "Inbox zero. Nothing needs a reply."
		if waiting {
			msg = "Not waiting on anyone."
			if riskOnly {
				msg = "No at-risk threads."
			}
		}
		fmt.Println(cli.InfoStyle.Render(msg)) //nolint:forbidigo // User-facing output
		return nil
	}

	// Create table writer
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	// Header
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
		headerStyle.Render("Risk"),
		headerStyle.Render("Subject"),
		headerStyle.Render("From"),
		headerStyle.Render("Last Message")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Separator
	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
		strings.Repeat("─", 8),
		strings.Repeat("─", 40),
		strings.Repeat("─", 22),
		strings.Repeat("─", 16)); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}

	// Data rows
	for _, t := range page.Threads {
		from := ""
		if len(t.Participants) > 0 {
			from = t.Participants[0]
		}

		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			cli.FormatRisk(t.Risk),
			clip(t.Subject, 60),
			clip(from, 30),
			t.LastMessageAt.Format("2006-01-02 15:04")); err != nil {
			return fmt.Errorf("failed to write thread row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush table writer: %w", err)
	}

	if waiting && page.HasMore {
		remaining := page.Total - page.Offset - len(page.Threads)
		hint := cli.FormatInfo(fmt.Sprintf("%d more: pass --offset %d", remaining, page.Offset+len(page.Threads)))

		fmt.Println()     //nolint:forbidigo // User-facing output
		fmt.Println(hint) //nolint:forbidigo // User-facing output
	}

	return nil
}

// clip truncates a string to max runes for table display.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
