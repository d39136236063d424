package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/worklog"
)

var watchToday bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the work log and follow changes until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchToday, "today", false, "Only show today's entries")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, a := start(cmd)
	defer a.Close()

	if _, err := a.ready(ctx); err != nil {
		a.fail(err)
	}

	out := cmd.OutOrStdout()
	redraw := out == os.Stdout && term.IsTerminal(int(os.Stdout.Fd()))
	for st := range a.svc.Watch(ctx) {
		renderWatch(out, st, time.Now(), redraw)
	}
	return nil
}

// renderWatch prints one frame. On a terminal the screen is cleared first,
// otherwise frames are separated by a blank line.
func renderWatch(w io.Writer, st worklog.State, now time.Time, redraw bool) {
	if redraw {
		fmt.Fprint(w, "\033[H\033[2J")
	} else {
		fmt.Fprintln(w)
	}
	entries := selectRange(now, watchToday, false).Filter(model.SortHistory(st.Entries))
	fmt.Fprintf(w, "%d entries · updated %s\n\n", len(entries), now.Format("15:04:05"))
	printList(w, entries)
}
