package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/timecalc"
	"github.com/Tiliavir/trivial-work-log/internal/worklog"
)

var (
	editDate     string
	editTime     string
	editCategory string
	editItem     string
	editQuantity int
	editComment  string
)

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of an existing entry",
	Long: `edit overwrites only the fields given as flags. Changing the category
without --item clears the item.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	editCmd.Flags().StringVar(&editDate, "date", "", "Date: today, yesterday or YYYY-MM-DD")
	editCmd.Flags().StringVar(&editTime, "time", "", "Time: now or HH:MM")
	editCmd.Flags().StringVar(&editCategory, "category", "", "Category: clients or family")
	editCmd.Flags().StringVarP(&editItem, "item", "i", "", "Item of the category")
	editCmd.Flags().IntVarP(&editQuantity, "quantity", "q", 0, "Article quantity")
	editCmd.Flags().StringVarP(&editComment, "comment", "m", "", "Comments")
}

func runEdit(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx, a := start(cmd)
	defer a.Close()

	if _, err := a.ready(ctx); err != nil {
		a.fail(err)
	}
	current, ok := a.svc.Entry(id)
	if !ok {
		a.fail(fmt.Errorf("no entry with id %q", id))
	}

	ed := worklog.NewEditor(a.svc, nil)
	ed.Edit(current)
	if err := applyEditFlags(cmd, ed, time.Now()); err != nil {
		a.fail(err)
	}

	want := ed.Draft()
	want.ID = id
	if err := ed.Submit(ctx); err != nil {
		a.fail(err)
	}
	if _, err := a.svc.WaitFor(ctx, func(s worklog.State) bool {
		got, ok := findEntry(s.Entries, id)
		return ok && got == want
	}); err != nil {
		a.fail(fmt.Errorf("waiting for entry %s: %w", id, err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", id)
	return nil
}

// applyEditFlags copies the flags set on the command line into the draft.
func applyEditFlags(cmd *cobra.Command, ed *worklog.Editor, now time.Time) error {
	flags := cmd.Flags()
	if flags.Changed("date") {
		date, err := timecalc.ParseDate(editDate, now)
		if err != nil {
			return err
		}
		ed.SetDate(date)
	}
	if flags.Changed("time") {
		clock, err := timecalc.ParseClock(editTime, now)
		if err != nil {
			return err
		}
		ed.SetTime(clock)
	}
	if flags.Changed("category") {
		c, err := model.ParseCategory(editCategory)
		if err != nil {
			return err
		}
		if err := ed.SetCategory(c); err != nil {
			return err
		}
	}
	if flags.Changed("item") {
		if err := ed.SelectItem(editItem); err != nil {
			return err
		}
	}
	if flags.Changed("quantity") {
		if err := ed.SetQuantity(editQuantity); err != nil {
			return err
		}
	}
	if flags.Changed("comment") {
		ed.SetComments(editComment)
	}
	return nil
}
