package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zsiec/network-monitor/internal/client"
)

var stationsCmd = &cobra.Command{
	Use:   "stations [station-id]",
	Short: "List stations with their passenger counts, or show one station",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStations,
}

var linesCmd = &cobra.Command{
	Use:   "lines",
	Short: "List lines and their routes",
	Args:  cobra.NoArgs,
	RunE:  runLines,
}

var (
	fromStation string
	toStation   string
	lineID      string
	routeID     string
)

var travelTimeCmd = &cobra.Command{
	Use:   "travel-time",
	Short: "Travel time between adjacent stations, or along a route",
	Long: `Without --line/--route, prints the travel time between two adjacent
stations (0 when they are not adjacent). With both, prints the cumulative
travel time from --from to --to following that route.`,
	Args: cobra.NoArgs,
	RunE: runTravelTime,
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Fastest path between two stations",
	Args:  cobra.NoArgs,
	RunE:  runPath,
}

func init() {
	for _, cmd := range []*cobra.Command{travelTimeCmd, pathCmd} {
		cmd.Flags().StringVar(&fromStation, "from", "", "Start station ID (required)")
		cmd.Flags().StringVar(&toStation, "to", "", "End station ID (required)")
		_ = cmd.MarkFlagRequired("from")
		_ = cmd.MarkFlagRequired("to")
	}
	travelTimeCmd.Flags().StringVar(&lineID, "line", "", "Line ID")
	travelTimeCmd.Flags().StringVar(&routeID, "route", "", "Route ID")
	travelTimeCmd.MarkFlagsRequiredTogether("line", "route")
}

func runStations(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			st, err := c.Station(ctx, args[0])
			if err != nil {
				return err
			}
			routes, err := c.StationRoutes(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(out, map[string]interface{}{"station": st, "routes": routes.Routes})
			}
			fmt.Fprintf(out, "%s (%s)\n", st.Name, st.ID)
			fmt.Fprintf(out, "Passengers: %s\n", humanize.Comma(st.Passengers))
			fmt.Fprintf(out, "Routes:     %s\n", strings.Join(routes.Routes, ", "))
			return nil
		}

		resp, err := c.Stations(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, resp)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPASSENGERS")
		var total int64
		for _, st := range resp.Stations {
			fmt.Fprintf(w, "%s\t%s\t%s\n", st.ID, st.Name, humanize.Comma(st.Passengers))
			total += st.Passengers
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d stations, %s passengers\n", resp.Count, humanize.Comma(total))
		return nil
	})
}

func runLines(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		resp, err := c.Lines(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, resp)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LINE\tROUTE\tDIRECTION\tSTOPS")
		for _, line := range resp.Lines {
			for _, route := range line.Routes {
				fmt.Fprintf(w, "%s (%s)\t%s\t%s\t%s\n",
					line.Name, line.ID, route.ID, route.Direction, strings.Join(route.Stops, " > "))
			}
		}
		return w.Flush()
	})
}

func runTravelTime(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		resp, err := c.TravelTime(ctx, fromStation, toStation, lineID, routeID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, resp)
		}
		if resp.RouteID != "" {
			fmt.Fprintf(out, "%s -> %s on %s/%s: %d min\n", resp.From, resp.To, resp.LineID, resp.RouteID, resp.TravelTime)
			return nil
		}
		fmt.Fprintf(out, "%s -> %s: %d min\n", resp.From, resp.To, resp.TravelTime)
		return nil
	})
}

func runPath(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		resp, err := c.Path(ctx, fromStation, toStation)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, resp)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tSTATION\tLINE\tROUTE")
		for i, step := range resp.Steps {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, step.StationID, dash(step.LineID), dash(step.RouteID))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nTotal %d min, %d change(s)\n", resp.TotalTravelTime, resp.Changes)
		return nil
	})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
