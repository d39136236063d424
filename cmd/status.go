package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-work-log/internal/timecalc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show identity, backend and today's totals",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	now := time.Now()
	ctx, a := start(cmd)
	defer a.Close()

	st, err := a.ready(ctx)
	if err != nil {
		a.fail(err)
	}
	id, _ := a.svc.Identity()

	today := timecalc.Day(now).Filter(st.Entries)
	quantity := 0
	for _, e := range today {
		quantity += e.ArticleQuantity
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Signed in as %s (%s)\n", id.UID, id.Provider)
	fmt.Fprintf(out, "Backend: %s, layout: %s\n", a.backend.Type, a.svc.Layout())
	fmt.Fprintf(out, "Entries: %d, clients: %d, family: %d\n",
		len(st.Entries), len(st.Taxonomy.Clients), len(st.Taxonomy.Family))
	fmt.Fprintf(out, "Today: %d entries, quantity %d.\n", len(today), quantity)
	return nil
}
