// Package cmd defines and implements the CLI commands for the rum-crawler executable.
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/config"
	"github.com/JakeFAU/rum-crawler/internal/sites"
)

// newRootCmd creates the root command. Each call owns a fresh Viper
// instance so flag bindings never leak between invocations.
func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "rum-crawler",
		Short: "Checks sites for real-user-monitoring instrumentation.",
		Long: `rum-crawler loads each site of a hostname list in a headless browser
and records whether the Boomerang beacon (window.BOOMR) and a vendor RUM
library are present, one result row per site.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return sites.ErrUsage
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newRunCmd(v, &cfgFile))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Fatal("command execution failed", zap.Error(err))
	}
}
