package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/probe"
	"firestige.xyz/mpswitch/internal/replay"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Write HULA probe requests to a capture",
	Long: `Build one probe request per destination ToR and write them to a pcap,
ready for "mpswitch replay" or tcpreplay.

Probes come from the probe_config section of a topology file, or from a
single --tor/--src-mac/--dst-mac triple.

Examples:
  mpswitch probe -o probes.pcap --topology topology.yml
  mpswitch probe -o probe.pcap --tor 7 --src-mac 00:00:00:00:00:01 --dst-mac 00:00:00:00:00:02`,
	Run: func(cmd *cobra.Command, args []string) {
		specs, err := probeSpecs()
		if err != nil {
			exitWithError("invalid probe", err)
		}
		f, err := os.Create(probeOutput)
		if err != nil {
			exitWithError(fmt.Sprintf("failed to create %s", probeOutput), err)
		}
		n, err := writeProbes(f, specs, time.Now())
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			exitWithError("failed to write probes", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d probe(s) to %s\n", n, probeOutput)
	},
}

var (
	probeOutput   string
	probeTopology string
	probeTor      uint32
	probeSrcMAC   string
	probeDstMAC   string
)

func init() {
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "", "output pcap (required)")
	probeCmd.Flags().StringVar(&probeTopology, "topology", "", "topology file with a probe_config section")
	probeCmd.Flags().Uint32Var(&probeTor, "tor", 0, "destination ToR id")
	probeCmd.Flags().StringVar(&probeSrcMAC, "src-mac", "00:00:00:00:00:01", "probe source MAC")
	probeCmd.Flags().StringVar(&probeDstMAC, "dst-mac", "ff:ff:ff:ff:ff:ff", "probe destination MAC")
	probeCmd.MarkFlagRequired("output")
}

func probeSpecs() ([]config.ProbeSpec, error) {
	if probeTopology == "" {
		return []config.ProbeSpec{{DstTorID: probeTor, SrcMAC: probeSrcMAC, DstMAC: probeDstMAC}}, nil
	}
	topo, err := config.LoadTopology(probeTopology)
	if err != nil {
		return nil, err
	}
	if len(topo.ProbeConfig.Probes) == 0 {
		return nil, fmt.Errorf("topology %s lists no probes", probeTopology)
	}
	return topo.ProbeConfig.Probes, nil
}

// writeProbes writes one probe request per spec and returns how many.
func writeProbes(w io.Writer, specs []config.ProbeSpec, now time.Time) (int, error) {
	probes, err := probe.FromTopology(specs)
	if err != nil {
		return 0, err
	}
	frames := make([][]byte, 0, len(probes))
	for _, p := range probes {
		frame, err := probe.Build(p, now)
		if err != nil {
			return 0, err
		}
		frames = append(frames, frame)
	}
	if err := replay.WriteFrames(w, replay.DefaultSnaplen, frames...); err != nil {
		return 0, err
	}
	return len(frames), nil
}
