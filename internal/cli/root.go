package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd создает команду "gateway" со всеми подкомандами.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Authorization-gated remote command gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ./config.yaml or ./configs/config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newCheckCmd(&configPath),
		newAuditCmd(&configPath),
	)

	return root
}
