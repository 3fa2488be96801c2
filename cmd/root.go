// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/mpswitch/internal/control"
)

var (
	// Global flags
	configFile string
	socketPath string
	timeout    time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mpswitch",
	Short: "mpswitch - software multipath switch with ECMP and HULA forwarding",
	Long: `mpswitch is a software switch that forwards IPv4 traffic across multiple
equal-cost paths, either by static ECMP hashing or by HULA utilization-aware
next-hop selection driven by in-band probes.

Features:
  - Match-action tables: ecmp_group, ecmp_nhop, flowlet_table, probe_fwd_table
  - Lock-free per-destination best-path registers updated by probes
  - Per-port ingress workers, AF_PACKET interface bindings
  - Remote control: Kafka command subscription
  - Local control: CLI via Unix Domain Socket
  - Offline pcap replay and probe generation`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/mpswitch/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/mpswitch.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"control request timeout")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(ruleCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(tableCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(validateCmd)
}

// Client is the control connection used by the commands talking to a
// running daemon.
type Client interface {
	Call(ctx context.Context, method string, params interface{}) (*control.Response, error)
}

// newClient is replaced in tests.
var newClient = func() Client {
	return control.NewUDSClient(socketPath, timeout)
}

// callAndPrint sends one command and prints its result as indented JSON.
func callAndPrint(ctx context.Context, client Client, out io.Writer, method string, params interface{}) error {
	resp, err := client.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s", method, resp.Error.Message)
	}
	return printJSON(out, resp.Result)
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
