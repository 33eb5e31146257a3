package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "clawless",
		Short: "Cost-aware inference router for local and remote LLM backends",
		Long: `ClawLess scores each inference task for complexity, runs simple work on a
free local model, escalates hard work to a paid remote model, and falls back
to the remote model whenever the local attempt fails or produces a response
that does not pass validation. Every accepted response is added to a daily
cost ledger.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default: ./config/config.yaml or ./config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(costsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
