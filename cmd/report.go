package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/timecalc"
)

var (
	reportToday  bool
	reportWeek   bool
	reportFormat string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show article quantity totals per category and item",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportToday, "today", false, "Report for today")
	reportCmd.Flags().BoolVar(&reportWeek, "week", false, "Report for this week")
	reportCmd.Flags().StringVar(&reportFormat, "format", "md", "Output format: md, csv, json")
}

// reportRow is the total of one category item.
type reportRow struct {
	Category model.Category `json:"category"`
	Item     string         `json:"categoryItem"`
	Quantity int            `json:"articleQuantity"`
	Entries  int            `json:"entries"`
}

type report struct {
	Range   string      `json:"range"`
	Rows    []reportRow `json:"rows"`
	Total   int         `json:"articleQuantity"`
	Entries int         `json:"entries"`
}

func runReport(cmd *cobra.Command, args []string) error {
	if err := checkFormat(reportFormat); err != nil {
		return err
	}
	r := selectRange(time.Now(), reportToday, reportWeek)

	ctx, a := start(cmd)
	defer a.Close()

	if _, err := a.ready(ctx); err != nil {
		a.fail(err)
	}
	rep := buildReport(r, a.svc.History())

	out := cmd.OutOrStdout()
	switch reportFormat {
	case "csv":
		fmt.Fprintln(out, "category,categoryItem,articleQuantity,entries")
		for _, row := range rep.Rows {
			fmt.Fprintf(out, "%s,%s,%d,%d\n", row.Category, csvEscape(row.Item), row.Quantity, row.Entries)
		}
	case "json":
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			a.fail(fmt.Errorf("error encoding JSON: %w", err))
		}
		fmt.Fprintln(out, string(data))
	default: // md
		printReport(out, rep)
	}
	return nil
}

// buildReport totals the entries in r per category and item. Rows follow
// the category order, then item name; entries without an item are grouped
// under the empty name.
func buildReport(r timecalc.DateRange, entries []model.Entry) report {
	type key struct {
		category model.Category
		item     string
	}
	totals := map[key]*reportRow{}
	rep := report{Range: r.String(), Rows: []reportRow{}}
	for _, e := range r.Filter(entries) {
		k := key{e.Category, e.CategoryItem}
		row, ok := totals[k]
		if !ok {
			row = &reportRow{Category: e.Category, Item: e.CategoryItem}
			totals[k] = row
		}
		row.Quantity += e.ArticleQuantity
		row.Entries++
		rep.Total += e.ArticleQuantity
		rep.Entries++
	}

	rank := map[model.Category]int{}
	for i, c := range model.Categories {
		rank[c] = i
	}
	for _, row := range totals {
		rep.Rows = append(rep.Rows, *row)
	}
	sort.Slice(rep.Rows, func(i, j int) bool {
		a, b := rep.Rows[i], rep.Rows[j]
		if a.Category != b.Category {
			return rank[a.Category] < rank[b.Category]
		}
		return a.Item < b.Item
	})
	return rep
}

func printReport(w io.Writer, rep report) {
	fmt.Fprintf(w, "Report %s\n", rep.Range)
	fmt.Fprintln(w, "----------------------------------------")
	var current model.Category
	for _, row := range rep.Rows {
		if row.Category != current {
			fmt.Fprintln(w, row.Category.Label())
			current = row.Category
		}
		item := row.Item
		if item == "" {
			item = "(no item)"
		}
		fmt.Fprintf(w, "  %-26s%6d  (%d)\n", item, row.Quantity, row.Entries)
	}
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintf(w, "%-28s%6d  (%d)\n", "Total", rep.Total, rep.Entries)
}
