// Package main is the entry point for the apollo-enricher CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// rootOptions holds the persistent flags shared by all subcommands.
type rootOptions struct {
	configFile string
	envFile    string
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "apollo-enricher",
		Short: "Search Apollo for people and enrich their contact details",
		Long: `apollo-enricher pages through Apollo's people search and calls the
enrichment endpoint for every person found, printing phone and email.

Configuration is read from flags, APOLLO_ENRICHER_* environment variables,
a .env file and an optional apollo-enricher.yaml config file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./apollo-enricher.yaml or ~/.config/apollo-enricher/apollo-enricher.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment (ignored when missing)")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
