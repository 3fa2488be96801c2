package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/mpswitch/internal/control"
	"firestige.xyz/mpswitch/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the mpswitch daemon",
	Long: `Stop the mpswitch daemon gracefully.

This command sends daemon_shutdown over the Unix Domain Socket. The daemon
drains its port queues and exits cleanly. With --force, a daemon that does
not answer on the socket is sent SIGTERM using its PID file.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStop(ctxOf(cmd), newClient(), cmd.OutOrStdout()); err != nil {
			if !stopForce {
				exitWithError("failed to stop daemon", err)
			}
			if err := daemon.StopProcess(stopPIDFile, timeout); err != nil {
				exitWithError("failed to stop daemon", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped (SIGTERM)")
		}
	},
}

var (
	stopForce   bool
	stopPIDFile string
)

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false,
		"signal the daemon through its PID file if the socket does not answer")
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "/var/run/mpswitch.pid",
		"PID file path")
}

func runStop(ctx context.Context, client Client, out io.Writer) error {
	resp, err := client.Call(ctx, control.MethodDaemonShutdown, nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("daemon_shutdown failed: %s", resp.Error.Message)
	}
	fmt.Fprintln(out, "Daemon is shutting down")
	return nil
}
