package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Tiliavir/trivial-work-log/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive work log",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("twl tui needs an interactive terminal")
	}

	ctx, a := start(cmd)
	defer a.Close()

	// The UI opens right away; writes are no-ops until sign-in finished.
	cancel := a.follow(ctx)
	defer cancel()

	if err := tui.Run(ctx, a.svc, a.log); err != nil {
		a.fail(err)
	}
	return nil
}
