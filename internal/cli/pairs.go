package cli

import (
	"github.com/spf13/cobra"
)

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "Print the resolved monitored pair set without starting the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Pairs(cmd.Context())
	},
}
