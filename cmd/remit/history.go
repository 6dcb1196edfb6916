package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/steveyegge/remit/internal/history"
	"github.com/steveyegge/remit/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "sync",
	Short:   "Show what tracking uploaded",
	Long: `Show journaled tracker outcomes, newest first.

--since accepts a duration ("2h") or natural language ("yesterday",
"last monday", "3 days ago").

Example:
  remit history --since yesterday --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceText, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		failedOnly, _ := cmd.Flags().GetBool("failed")

		since, err := parseSince(sinceText, time.Now())
		if err != nil {
			return err
		}

		store, err := history.Open(settings.History.Path, logs.Logger("history"))
		if err != nil {
			return err
		}
		defer store.Close()

		query := limit
		if failedOnly {
			query = 0
		}
		entries, err := store.Recent(cmd.Context(), since, query)
		if err != nil {
			return err
		}

		var rows [][]string
		for _, e := range entries {
			if failedOnly && e.Outcome != "failed" {
				continue
			}
			if limit > 0 && len(rows) == limit {
				break
			}
			rows = append(rows, historyRow(e))
		}
		if len(rows) == 0 {
			fmt.Println(ui.RenderMuted("No history"))
			return nil
		}
		fmt.Print(ui.Columns(rows))
		return nil
	},
}

func historyRow(e history.Entry) []string {
	var outcome, detail string
	switch e.Outcome {
	case "dispatched":
		outcome = ui.RenderPass("uploaded")
		detail = e.RemotePath
	case "failed":
		outcome = ui.RenderFail("failed")
		detail = e.Error
	default:
		outcome = ui.RenderWarn("skipped")
		detail = e.Reason
	}
	return []string{
		ui.RenderMuted(humanize.Time(e.Time)),
		outcome,
		e.Action,
		e.LocalPath,
		detail,
	}
}

// parseSince accepts "", a Go duration, or a natural language time.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(text); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", text)
	}
	return r.Time, nil
}

func init() {
	historyCmd.Flags().String("since", "", "only show entries after this time")
	historyCmd.Flags().IntP("limit", "n", 20, "maximum entries (0 for all)")
	historyCmd.Flags().Bool("failed", false, "only show failed uploads")

	rootCmd.AddCommand(historyCmd)
}
