package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagBackend  string
	flagLayout   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "twl",
	Short: "Trivial Work Log – log client and family work from the terminal",
	Long: `twl keeps a work log of dated entries against two category lists
(clients and family). Data lives in ~/.twl by default and can be kept in
SQLite or a Firebase Realtime Database instead; every running twl sees
changes made by the others.`,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.twl/config.json)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "Store: memory, file, sqlite or firebase")
	rootCmd.PersistentFlags().StringVar(&flagLayout, "layout", "", "Data layout: user or shared")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tuiCmd)
}
