package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/network-monitor/internal/client"
	"github.com/zsiec/network-monitor/internal/dashboard"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of passenger counts and events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			return dashboard.Run(ctx, c, apiAddr, watchInterval)
		})
	},
}

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 2*time.Second, "Polling interval")
}
