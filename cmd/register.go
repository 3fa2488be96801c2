package cmd

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/mpswitch/internal/control"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Inspect and reset HULA best-path registers",
	Long: `Read or reset the path_util and best_port registers of a running daemon.

Keys are destination ToR ids or IPv4 addresses; both reduce to the same
register index the data plane uses. Without keys every populated index is
selected.

Examples:
  mpswitch register read 7 10.0.2.5
  mpswitch register reset`,
}

var registerReadCmd = &cobra.Command{
	Use:   "read [key...]",
	Short: "Read register entries",
	Run: func(cmd *cobra.Command, args []string) {
		keys, err := parseRegisterKeys(args)
		if err != nil {
			exitWithError("invalid register key", err)
		}
		params := control.RegisterParams{Keys: keys}
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodRegisterRead, params); err != nil {
			exitWithError("failed to read registers", err)
		}
	},
}

var registerResetCmd = &cobra.Command{
	Use:   "reset [key...]",
	Short: "Restore register entries to their sentinels",
	Run: func(cmd *cobra.Command, args []string) {
		keys, err := parseRegisterKeys(args)
		if err != nil {
			exitWithError("invalid register key", err)
		}
		params := control.RegisterParams{Keys: keys}
		if err := callAndPrint(ctxOf(cmd), newClient(), cmd.OutOrStdout(), control.MethodRegisterReset, params); err != nil {
			exitWithError("failed to reset registers", err)
		}
	},
}

func init() {
	registerCmd.AddCommand(registerReadCmd)
	registerCmd.AddCommand(registerResetCmd)
}

// parseRegisterKeys accepts decimal keys and dotted IPv4 addresses.
func parseRegisterKeys(args []string) ([]uint32, error) {
	keys := make([]uint32, 0, len(args))
	for _, a := range args {
		if n, err := strconv.ParseUint(a, 10, 32); err == nil {
			keys = append(keys, uint32(n))
			continue
		}
		addr, err := netip.ParseAddr(a)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("%q is neither a ToR id nor an IPv4 address", a)
		}
		b := addr.As4()
		keys = append(keys, uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8|uint32(b[3]))
	}
	return keys, nil
}
