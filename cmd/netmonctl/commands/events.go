package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zsiec/network-monitor/internal/client"
	"github.com/zsiec/network-monitor/internal/network"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and record passenger events",
}

var recentLimit int

var eventsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent passenger events, newest first",
	Args:  cobra.NoArgs,
	RunE:  runEventsRecent,
}

var eventsSendCmd = &cobra.Command{
	Use:   "send <station-id> <in|out>",
	Short: "Record a passenger entering or leaving a station",
	Args:  cobra.ExactArgs(2),
	RunE:  runEventsSend,
}

var eventsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero every passenger count and clear the event history",
	Args:  cobra.NoArgs,
	RunE:  runEventsReset,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the monitor to reload its network layout now",
	Args:  cobra.NoArgs,
	RunE:  runReload,
}

func init() {
	eventsRecentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 20, "Number of events to show")
	eventsCmd.AddCommand(eventsRecentCmd)
	eventsCmd.AddCommand(eventsSendCmd)
	eventsCmd.AddCommand(eventsResetCmd)
}

func runEventsRecent(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		resp, err := c.RecentEvents(ctx, recentLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, resp)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSTATION\tEVENT\tAGE")
		for _, ev := range resp.Events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				ev.Timestamp.Local().Format(time.DateTime), ev.StationID, ev.Type, humanize.Time(ev.Timestamp))
		}
		return w.Flush()
	})
}

func runEventsSend(cmd *cobra.Command, args []string) error {
	typ, err := network.ParseEventType(args[1])
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		ev, err := c.RecordEvent(ctx, network.PassengerEvent{
			StationID: args[0],
			Type:      typ,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ev)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s at %s\n", ev.Type, ev.StationID)
		return nil
	})
}

func runEventsReset(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		stations, err := c.ResetCounts(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]int{"stations": stations})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset passenger counts at %d stations\n", stations)
		return nil
	})
}

func runReload(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		info, err := c.ReloadLayout(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, info)
		}
		state := "unchanged"
		if info.Changed {
			state = "updated"
		}
		fmt.Fprintf(out, "Layout %s: %d stations, %d lines, %d routes (loaded %s)\n",
			state, info.Stats.Stations, info.Stats.Lines, info.Stats.Routes, humanize.Time(info.LoadedAt))
		return nil
	})
}
