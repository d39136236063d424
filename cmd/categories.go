package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/worklog"
)

var categoriesCmd = &cobra.Command{
	Use:     "categories",
	Aliases: []string{"cat"},
	Short:   "Show and edit the client and family lists",
	Args:    cobra.NoArgs,
	RunE:    runCategoriesList,
}

var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show both category lists",
	Args:  cobra.NoArgs,
	RunE:  runCategoriesList,
}

var categoriesAddCmd = &cobra.Command{
	Use:     "add <clients|family> <name>",
	Short:   "Add an item to a category",
	Example: `  twl categories add clients "Acme Corp"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runCategoriesAdd,
}

var categoriesDeleteCmd = &cobra.Command{
	Use:     "delete <clients|family> <name>",
	Aliases: []string{"rm"},
	Short:   "Remove an item from a category",
	Args:    cobra.ExactArgs(2),
	RunE:    runCategoriesDelete,
}

func init() {
	categoriesCmd.AddCommand(categoriesListCmd)
	categoriesCmd.AddCommand(categoriesAddCmd)
	categoriesCmd.AddCommand(categoriesDeleteCmd)
}

func runCategoriesList(cmd *cobra.Command, args []string) error {
	ctx, a := start(cmd)
	defer a.Close()

	st, err := a.ready(ctx)
	if err != nil {
		a.fail(err)
	}
	printTaxonomy(cmd.OutOrStdout(), st.Taxonomy)
	return nil
}

func runCategoriesAdd(cmd *cobra.Command, args []string) error {
	c, err := model.ParseCategory(args[0])
	if err != nil {
		return err
	}
	name := strings.TrimSpace(args[1])
	if name == "" {
		return fmt.Errorf("name must not be blank")
	}

	ctx, a := start(cmd)
	defer a.Close()

	if _, err := a.ready(ctx); err != nil {
		a.fail(err)
	}
	added, err := a.svc.AddCategory(ctx, c, name)
	if err != nil {
		a.fail(err)
	}
	if !added {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already has %q\n", c.Label(), name)
		return nil
	}
	if _, err := a.svc.WaitFor(ctx, func(s worklog.State) bool { return s.Taxonomy.Items(c).Has(name) }); err != nil {
		a.fail(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %q to %s\n", name, c.Label())
	return nil
}

func runCategoriesDelete(cmd *cobra.Command, args []string) error {
	c, err := model.ParseCategory(args[0])
	if err != nil {
		return err
	}
	name := strings.TrimSpace(args[1])

	ctx, a := start(cmd)
	defer a.Close()

	if _, err := a.ready(ctx); err != nil {
		a.fail(err)
	}
	removed, err := a.svc.DeleteCategory(ctx, c, name)
	if err != nil {
		a.fail(err)
	}
	if !removed {
		fmt.Fprintf(cmd.OutOrStdout(), "%s has no item %q\n", c.Label(), name)
		return nil
	}
	if _, err := a.svc.WaitFor(ctx, func(s worklog.State) bool { return !s.Taxonomy.Items(c).Has(name) }); err != nil {
		a.fail(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %q from %s\n", name, c.Label())
	return nil
}

// printTaxonomy lists the items of every category in insertion order.
func printTaxonomy(w io.Writer, tax model.Taxonomy) {
	for i, c := range model.Categories {
		if i > 0 {
			fmt.Fprintln(w)
		}
		items := tax.Items(c)
		fmt.Fprintf(w, "%s (%d)\n", c.Label(), len(items))
		if len(items) == 0 {
			fmt.Fprintln(w, "  (none)")
		}
		for _, name := range items {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}
