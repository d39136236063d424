package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/timecalc"
)

var (
	listToday bool
	listWeek  bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listToday, "today", false, "Show today's entries")
	listCmd.Flags().BoolVar(&listWeek, "week", false, "Show this week's entries")
}

func runList(cmd *cobra.Command, args []string) error {
	r := selectRange(time.Now(), listToday, listWeek)

	ctx, a := start(cmd)
	defer a.Close()

	if _, err := a.ready(ctx); err != nil {
		a.fail(err)
	}
	printList(cmd.OutOrStdout(), r.Filter(a.svc.History()))
	return nil
}

// selectRange maps the --today and --week flags to a date range. Neither
// flag means all entries.
func selectRange(now time.Time, today, week bool) timecalc.DateRange {
	switch {
	case week:
		return timecalc.Week(now)
	case today:
		return timecalc.Day(now)
	default:
		return timecalc.DateRange{}
	}
}

// printList groups entries by date and prints them. entries must be sorted
// newest first.
func printList(w io.Writer, entries []model.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return
	}

	var currentDay string
	for _, e := range entries {
		if e.Date != currentDay {
			if currentDay != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, timecalc.DayLabel(e.Date))
			currentDay = e.Date
		}

		item := e.CategoryItem
		if item == "" {
			item = "–"
		}
		comments := ""
		if e.Comments != "" {
			comments = "  " + e.Comments
		}
		fmt.Fprintf(w, "  %s  %-8s %-20s %4d%s  [%s]\n",
			e.Time, e.Category.Label(), item, e.ArticleQuantity, comments, e.ID)
	}
}
