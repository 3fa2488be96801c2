package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"firestige.xyz/mpswitch/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the mpswitch daemon for its overall status.

Shows: switch id, forwarding mode, ports and uptime.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodDaemonStatus, nil); err != nil {
			exitWithError("failed to query daemon status", err)
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Query the mpswitch daemon for runtime statistics.

Shows: received, emitted and dropped frames, parse errors, queue drops,
probes, register updates and rules per table.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodSwitchStats, nil); err != nil {
			exitWithError("failed to query stats", err)
		}
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration and topology",
	Run: func(cmd *cobra.Command, args []string) {
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodConfigReload, nil); err != nil {
			exitWithError("failed to reload", err)
		}
	},
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
