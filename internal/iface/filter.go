package iface

import (
	"golang.org/x/net/bpf"

	"firestige.xyz/mpswitch/internal/core"
)

// packetOutgoing is the skb pkt_type of frames the host itself sent.
const packetOutgoing = 4

// filterProgram accepts IPv4 and HULA frames and rejects everything else.
// With dropOutgoing the program also rejects frames sent on the socket's own
// interface, so emitted frames are not read back as ingress.
func filterProgram(snapLen int, dropOutgoing bool) []bpf.Instruction {
	accept := bpf.RetConstant{Val: uint32(snapLen)}
	reject := bpf.RetConstant{Val: 0}

	var prog []bpf.Instruction
	if dropOutgoing {
		prog = append(prog,
			bpf.LoadExtension{Num: bpf.ExtType},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: packetOutgoing, SkipTrue: 3},
		)
	}
	return append(prog,
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(core.EtherTypeIPv4), SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(core.EtherTypeHULA), SkipTrue: 1},
		reject,
		accept,
	)
}

// assembleFilter assembles the socket filter for snapLen.
func assembleFilter(snapLen int) ([]bpf.RawInstruction, error) {
	return bpf.Assemble(filterProgram(snapLen, true))
}
