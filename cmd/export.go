package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-work-log/internal/model"
)

var (
	exportFormat string
	exportToday  bool
	exportWeek   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export entries to stdout",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv, json, md")
	exportCmd.Flags().BoolVar(&exportToday, "today", false, "Only today's entries")
	exportCmd.Flags().BoolVar(&exportWeek, "week", false, "Only this week's entries")
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := checkFormat(exportFormat); err != nil {
		return err
	}
	r := selectRange(time.Now(), exportToday, exportWeek)

	ctx, a := start(cmd)
	defer a.Close()

	if _, err := a.ready(ctx); err != nil {
		a.fail(err)
	}
	entries := r.Filter(a.svc.History())

	out := cmd.OutOrStdout()
	switch exportFormat {
	case "json":
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			a.fail(fmt.Errorf("error encoding JSON: %w", err))
		}
		fmt.Fprintln(out, string(data))
	case "md":
		printList(out, entries)
	default: // csv
		printCSV(out, entries)
	}
	return nil
}

// checkFormat rejects formats other than csv, json and md.
func checkFormat(format string) error {
	switch format {
	case "csv", "json", "md":
		return nil
	}
	return fmt.Errorf("unknown format %q (want csv, json or md)", format)
}

func printCSV(w io.Writer, entries []model.Entry) {
	fmt.Fprintln(w, "id,date,time,category,categoryItem,articleQuantity,comments")
	for _, e := range entries {
		fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%s\n",
			csvEscape(e.ID),
			csvEscape(e.Date),
			csvEscape(e.Time),
			csvEscape(string(e.Category)),
			csvEscape(e.CategoryItem),
			strconv.Itoa(e.ArticleQuantity),
			csvEscape(e.Comments),
		)
	}
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	needsQuote := false
	for _, c := range s {
		if c == ',' || c == '"' || c == '\n' || c == '\r' {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return s
	}
	// Escape internal double quotes by doubling them.
	escaped := ""
	for _, c := range s {
		if c == '"' {
			escaped += "\""
		}
		escaped += string(c)
	}
	return `"` + escaped + `"`
}
