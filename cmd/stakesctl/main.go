package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "stakesctl",
		Short:        "stakesctl - operate a stakes ledger database",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(aggregateCmd())
	rootCmd.AddCommand(depositCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(spaceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
