package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zsiec/network-monitor/internal/client"
	"github.com/zsiec/network-monitor/pkg/version"
)

var versionRemote bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionRemote, "remote", false, "Also ask the monitor for its version")
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	local := version.GetInfo()
	if !versionRemote {
		if jsonOutput {
			return printJSON(out, local)
		}
		fmt.Fprintln(out, local.String())
		return nil
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		remote, err := c.Version(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, map[string]interface{}{"client": local, "server": remote})
		}
		fmt.Fprintf(out, "Client: %s\n", local.String())
		fmt.Fprintf(out, "Server: %s (manifest %s)\n", remote.Info.String(), remote.Manifest)
		return nil
	})
}
