package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-work-log/internal/worklog"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete an entry",
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx, a := start(cmd)
	defer a.Close()

	if _, err := a.ready(ctx); err != nil {
		a.fail(err)
	}
	if _, ok := a.svc.Entry(id); !ok {
		a.fail(fmt.Errorf("no entry with id %q", id))
	}
	if err := a.svc.DeleteEntry(ctx, id); err != nil {
		a.fail(err)
	}
	if _, err := a.svc.WaitFor(ctx, func(s worklog.State) bool { return !hasEntry(s, id) }); err != nil {
		a.fail(fmt.Errorf("waiting for entry %s: %w", id, err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	return nil
}
