package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/oppfinder/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "oppctl",
		Short:         "oppctl - one-shot opportunity searches against the registry",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env", "", "config environment (defaults to $ENV, then local)")
	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newSearchCmd())
	return root
}
