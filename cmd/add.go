package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/timecalc"
	"github.com/Tiliavir/trivial-work-log/internal/worklog"
)

var (
	addDate     string
	addTime     string
	addCategory string
	addItem     string
	addQuantity int
	addComment  string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a work-log entry",
	Example: `  twl add --item Acme --quantity 3 --comment "invoices"
  twl add --date yesterday --time 17:30 --category family --item Grandma`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addDate, "date", "today", "Date: today, yesterday or YYYY-MM-DD")
	addCmd.Flags().StringVar(&addTime, "time", "now", "Time: now or HH:MM")
	addCmd.Flags().StringVar(&addCategory, "category", string(model.CategoryClients), "Category: clients or family")
	addCmd.Flags().StringVarP(&addItem, "item", "i", "", "Item of the category (must exist, see twl categories)")
	addCmd.Flags().IntVarP(&addQuantity, "quantity", "q", 0, "Article quantity")
	addCmd.Flags().StringVarP(&addComment, "comment", "m", "", "Comments")
}

func runAdd(cmd *cobra.Command, args []string) error {
	now := time.Now()

	entry, err := entryFromFlags(now)
	if err != nil {
		return err
	}

	ctx, a := start(cmd)
	defer a.Close()

	st, err := a.ready(ctx)
	if err != nil {
		a.fail(err)
	}
	if err := checkItem(st.Taxonomy, entry.Category, entry.CategoryItem); err != nil {
		a.fail(err)
	}

	id, err := a.svc.AddEntry(ctx, entry)
	if err != nil {
		a.fail(err)
	}
	if _, err := a.svc.WaitFor(ctx, func(s worklog.State) bool { return hasEntry(s, id) }); err != nil {
		a.fail(fmt.Errorf("waiting for entry %s: %w", id, err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", id)
	return nil
}

// entryFromFlags builds the entry described by the add flags.
func entryFromFlags(now time.Time) (model.Entry, error) {
	date, err := timecalc.ParseDate(addDate, now)
	if err != nil {
		return model.Entry{}, err
	}
	clock, err := timecalc.ParseClock(addTime, now)
	if err != nil {
		return model.Entry{}, err
	}
	category, err := model.ParseCategory(addCategory)
	if err != nil {
		return model.Entry{}, err
	}
	e := model.Entry{
		Date:            date,
		Time:            clock,
		Category:        category,
		CategoryItem:    strings.TrimSpace(addItem),
		ArticleQuantity: addQuantity,
		Comments:        addComment,
	}
	return e, e.Validate()
}

// checkItem reports an item missing from the taxonomy of c. An empty item
// is allowed.
func checkItem(tax model.Taxonomy, c model.Category, item string) error {
	if item == "" || tax.Items(c).Has(item) {
		return nil
	}
	return fmt.Errorf("%s has no item %q; add it with: twl categories add %s %q", c.Label(), item, c, item)
}
