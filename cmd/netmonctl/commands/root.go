// Package commands implements the netmonctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/network-monitor/internal/client"
	"github.com/zsiec/network-monitor/pkg/version"
)

var (
	apiAddr    string
	useHTTP3   bool
	insecure   bool
	timeout    time.Duration
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "netmonctl",
	Short: "Query and operate a network monitor",
	Long: `netmonctl talks to a running network monitor over its HTTP API: list
stations, ask for travel times and fastest paths, post passenger events and
watch the network live. A few commands (download, manifest) work offline.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints any error.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", envOr("NETMON_ADDR", "http://localhost:8080"), "Network monitor API base URL")
	rootCmd.PersistentFlags().BoolVar(&useHTTP3, "http3", false, "Use HTTP/3 (QUIC); needs an https address")
	rootCmd.PersistentFlags().BoolVarP(&insecure, "insecure", "k", false, "Skip TLS certificate verification")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(stationsCmd)
	rootCmd.AddCommand(linesCmd)
	rootCmd.AddCommand(travelTimeCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() (*client.Client, error) {
	return client.New(client.Config{
		BaseURL:  apiAddr,
		Timeout:  timeout,
		HTTP3:    useHTTP3,
		Insecure: insecure,
	})
}

// withClient opens a client for the duration of fn.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(cmd.Context(), c)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
