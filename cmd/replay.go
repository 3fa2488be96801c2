package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/control"
	"firestige.xyz/mpswitch/internal/core"
	logpkg "firestige.xyz/mpswitch/internal/log"
	"firestige.xyz/mpswitch/internal/pipeline"
	"firestige.xyz/mpswitch/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run a capture through an offline switch",
	Long: `Build a switch in-process, populate it from a topology file, feed every
frame of a pcap or pcapng capture through it and write the emitted frames
to an output capture. No daemon is involved.

The switch is configured from --config when the flag is given, otherwise
from defaults. --switch-id and --mode override either.

Examples:
  mpswitch replay -i in.pcap -o out.pcap --topology topology.yml --switch-id leaf1
  mpswitch replay -i probes.pcap --mode hula --registers`,
	Run: func(cmd *cobra.Command, args []string) {
		path := ""
		if cmd.Flags().Changed("config") {
			path = configFile
		}
		cfg, err := config.Load(path)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if replaySwitchID != "" {
			cfg.Switch.ID = replaySwitchID
		}
		if replayMode != "" {
			cfg.Switch.Mode = replayMode
		}
		if cmd.Flags().Changed("ingress-port") {
			cfg.Replay.IngressPort = replayIngress
		}
		if replayTopology == "" {
			replayTopology = cfg.Topology.File
		}

		opts := replayOptions{
			input:     replayInput,
			output:    replayOutput,
			topology:  replayTopology,
			registers: replayRegisters,
		}
		if err := runReplay(ctxOf(cmd), cfg, opts, cmd.OutOrStdout()); err != nil {
			exitWithError("replay failed", err)
		}
	},
}

var (
	replayInput     string
	replayOutput    string
	replayTopology  string
	replaySwitchID  string
	replayMode      string
	replayIngress   uint16
	replayRegisters bool
)

func init() {
	replayCmd.Flags().StringVarP(&replayInput, "input", "i", "", "input capture, pcap or pcapng (required)")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", "", "output pcap of emitted frames")
	replayCmd.Flags().StringVar(&replayTopology, "topology", "", "topology file populating the tables")
	replayCmd.Flags().StringVar(&replaySwitchID, "switch-id", "", "switch id selecting the topology entry")
	replayCmd.Flags().StringVar(&replayMode, "mode", "", "forwarding mode: ecmp | hula")
	replayCmd.Flags().Uint16Var(&replayIngress, "ingress-port", 1, "port every frame arrives on")
	replayCmd.Flags().BoolVar(&replayRegisters, "registers", false, "print populated registers after the replay")
	replayCmd.MarkFlagRequired("input")
}

type replayOptions struct {
	input     string
	output    string
	topology  string
	registers bool
}

type replayReport struct {
	SwitchID  string                  `json:"switch_id"`
	Mode      string                  `json:"mode"`
	Result    *replay.Result          `json:"result"`
	Registers []control.RegisterEntry `json:"registers,omitempty"`
}

func runReplay(ctx context.Context, cfg *config.GlobalConfig, opts replayOptions, out io.Writer) error {
	sc := cfg.Switch
	sw, err := pipeline.FromConfig(sc).WithLogger(logpkg.ForSwitch(sc.ID, sc.Mode)).Build()
	if err != nil {
		return fmt.Errorf("failed to build switch: %w", err)
	}
	defer sw.Stop()

	plane := control.New(sw.ID(), sw.Tables(), sw.Registers())
	if opts.topology != "" {
		topo, err := config.LoadTopology(opts.topology)
		if err != nil {
			return err
		}
		st, ok := topo.Switch(sw.ID())
		if !ok {
			return fmt.Errorf("topology %s has no entry for switch %q", opts.topology, sw.ID())
		}
		if err := plane.Populate(st); err != nil {
			return fmt.Errorf("failed to populate tables: %w", err)
		}
	}

	res, err := replay.RunFile(ctx, opts.input, opts.output, sw, replay.Options{
		IngressPort: core.Port(cfg.Replay.IngressPort),
		Snaplen:     cfg.Replay.Snaplen,
	})
	if err != nil {
		return err
	}

	report := replayReport{SwitchID: sw.ID(), Mode: sw.Mode(), Result: res}
	if opts.registers {
		for _, e := range plane.Registers() {
			report.Registers = append(report.Registers, control.RegisterEntry{
				Index:    e.Index,
				PathUtil: e.PathUtil,
				BestPort: uint16(e.BestPort),
			})
		}
	}
	return printJSON(out, report)
}
