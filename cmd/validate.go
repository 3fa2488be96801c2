package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/mpswitch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a topology file",
	Long: `Validate a topology file (YAML or JSON) without contacting the daemon.

Every prefix, MAC, port and group id is checked. When --config is given
the global configuration is validated as well.

Examples:
  mpswitch validate -f topology.yml
  mpswitch validate -f topology.json -c /etc/mpswitch/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("config") {
			if _, err := config.Load(configFile); err != nil {
				fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
				os.Exit(1)
			}
		}
		if err := runValidate(validateFile, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

var validateFile string

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "",
		"topology file to validate (required)")
	validateCmd.MarkFlagRequired("file")
}

func runValidate(path string, out io.Writer) error {
	topo, err := config.LoadTopology(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "VALID: %d switch(es), %d probe(s)\n", len(topo.Switches), len(topo.ProbeConfig.Probes))
	for _, sw := range topo.Switches {
		nhops := 0
		for _, g := range sw.ECMPGroups {
			nhops += len(g.NextHops)
		}
		fmt.Fprintf(out, "  %s: %d ecmp group(s), %d next hop(s), %d flowlet entr(ies), %d probe entr(ies)\n",
			sw.SwitchID, len(sw.ECMPGroups), nhops, len(sw.FlowletEntries), len(sw.ProbeEntries))
	}
	return nil
}
