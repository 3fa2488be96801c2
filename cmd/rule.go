package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/mpswitch/internal/control"
)

// ruleCmd represents the rule command group
var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage table rules",
	Long: `Install, remove and list match-action rules on a running daemon.

Tables: ecmp_group, ecmp_nhop, flowlet_table, probe_fwd_table.

Examples:
  mpswitch rule install -t ecmp_group --prefix 10.0.2.0/24 --action set_ecmp_group --group 1 --nhops 2
  mpswitch rule install -t ecmp_nhop --group 1 --hash 0 --action set_nhop --port 2 --mac 00:00:00:00:02:02
  mpswitch rule install -t probe_fwd_table --key 7 --action set_nhop --port 3 --mac 00:00:00:00:03:03
  mpswitch rule remove -t flowlet_table --prefix 10.0.2.0/24
  mpswitch rule list -t ecmp_nhop`,
}

var ruleInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install or replace a rule",
	Run: func(cmd *cobra.Command, args []string) {
		params := control.RuleParams{Rule: ruleSpec}
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodRuleInstall, params); err != nil {
			exitWithError("failed to install rule", err)
		}
	},
}

var ruleRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a rule by its match key",
	Run: func(cmd *cobra.Command, args []string) {
		params := control.RuleParams{Rule: ruleSpec}
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodRuleRemove, params); err != nil {
			exitWithError("failed to remove rule", err)
		}
	},
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules of one table or of every table",
	Run: func(cmd *cobra.Command, args []string) {
		params := control.TableParams{Table: ruleSpec.Table}
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodRuleList, params); err != nil {
			exitWithError("failed to list rules", err)
		}
	},
}

var ruleSpec control.RuleSpec

func init() {
	for _, c := range []*cobra.Command{ruleInstallCmd, ruleRemoveCmd} {
		c.Flags().StringVarP(&ruleSpec.Table, "table", "t", "", "table name (required)")
		c.Flags().StringVar(&ruleSpec.Prefix, "prefix", "", "IPv4 prefix for ecmp_group and flowlet_table")
		c.Flags().Uint64Var(&ruleSpec.Key, "key", 0, "exact key for probe_fwd_table (destination ToR id)")
		c.Flags().Uint16Var(&ruleSpec.GroupID, "group", 0, "ECMP group id")
		c.Flags().Uint16Var(&ruleSpec.Hash, "hash", 0, "next-hop index within the group (ecmp_nhop)")
		c.MarkFlagRequired("table")
	}
	ruleInstallCmd.Flags().Int32Var(&ruleSpec.Priority, "priority", 0, "tie-break priority")
	ruleInstallCmd.Flags().StringVar(&ruleSpec.Action, "action", "", "set_ecmp_group | set_nhop | drop")
	ruleInstallCmd.Flags().Uint16Var(&ruleSpec.NumNhops, "nhops", 0, "number of next hops (set_ecmp_group)")
	ruleInstallCmd.Flags().Uint16Var(&ruleSpec.Port, "port", 0, "egress port (set_nhop)")
	ruleInstallCmd.Flags().StringVar(&ruleSpec.MAC, "mac", "", "next-hop MAC (set_nhop)")

	ruleListCmd.Flags().StringVarP(&ruleSpec.Table, "table", "t", "", "table name (all tables if empty)")

	ruleCmd.AddCommand(ruleInstallCmd)
	ruleCmd.AddCommand(ruleRemoveCmd)
	ruleCmd.AddCommand(ruleListCmd)
}
