package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"firestige.xyz/mpswitch/internal/control"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Manage whole tables",
}

var tableClearCmd = &cobra.Command{
	Use:   "clear [table]",
	Short: "Remove every rule from a table, or from all tables",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var params control.TableParams
		if len(args) == 1 {
			params.Table = args[0]
		}
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodTableClear, params); err != nil {
			exitWithError("failed to clear table", err)
		}
	},
}

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Populate tables from a topology file",
}

var topologyLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Install the rules of this switch from a topology file",
	Long: `Ask the daemon to read a topology file and install the ecmp groups,
flowlet entries and probe entries listed for its switch id.

The path is resolved on the daemon host; relative paths are made absolute
against the current directory first.

Examples:
  mpswitch topology load -f /etc/mpswitch/topology.yml --clear`,
	Run: func(cmd *cobra.Command, args []string) {
		path, err := filepath.Abs(topologyFile)
		if err != nil {
			exitWithError(fmt.Sprintf("invalid path %s", topologyFile), err)
		}
		params := control.TopologyParams{Path: path, Clear: topologyClear}
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodTopologyLoad, params); err != nil {
			exitWithError("failed to load topology", err)
		}
	},
}

var (
	topologyFile  string
	topologyClear bool
)

func init() {
	tableCmd.AddCommand(tableClearCmd)

	topologyLoadCmd.Flags().StringVarP(&topologyFile, "file", "f", "", "topology file (required)")
	topologyLoadCmd.Flags().BoolVar(&topologyClear, "clear", false, "also reset registers (tables are always replaced)")
	topologyLoadCmd.MarkFlagRequired("file")
	topologyCmd.AddCommand(topologyLoadCmd)
}

var tableResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear every table and reset every register",
	Run: func(cmd *cobra.Command, args []string) {
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodSwitchReset, nil); err != nil {
			exitWithError("failed to reset switch", err)
		}
	},
}

func init() {
	tableCmd.AddCommand(tableResetCmd)
}
