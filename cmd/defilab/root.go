package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "lab.toml"

// NewRootCmd assembles the defilab command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "defilab",
		Short:         "Flash-loan oracle manipulation lab",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "path to the lab configuration (.toml or .yaml)")
	root.AddCommand(newConfigCmd(), newScenarioCmd(), newReceiptsCmd())
	return root
}
