// Package hula implements probe-driven, utilization-aware forwarding.
//
// Probes carry the utilization of the path they travelled. Each switch keeps,
// per destination, the lowest utilization seen and the port the winning probe
// arrived on. Data packets follow that port when one is known and fall back
// to the static flowlet table otherwise.
package hula

import (
	"math"

	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/table"
)

// DefaultHopIncrement is the utilization a probe accumulates per hop.
const DefaultHopIncrement uint16 = 1

// Drop reasons recorded in core.Metadata.
const (
	DropProbeMiss   = "probe_fwd_miss"
	DropFlowletMiss = "flowlet_miss"
)

// Registers is the register store the pipeline reads and updates.
type Registers interface {
	Index(key uint32) uint32
	Read(index uint32) (util uint16, port core.Port)
	CompareAndUpdate(index uint32, util uint16, port core.Port) bool
}

// Path records which branch forwarded a packet.
type Path uint8

const (
	PathNone Path = iota
	PathProbe
	PathAdaptive
	PathFallback
)

func (p Path) String() string {
	switch p {
	case PathProbe:
		return "probe"
	case PathAdaptive:
		return "adaptive"
	case PathFallback:
		return "fallback"
	}
	return "none"
}

// Pipeline holds the HULA tables and registers of one switch.
type Pipeline struct {
	regs         Registers
	probeFwd     *table.Table
	flowlet      *table.Table
	hopIncrement uint16
}

// New creates a HULA pipeline.
func New(regs Registers, tables *table.Set, hopIncrement uint16) *Pipeline {
	return &Pipeline{
		regs:         regs,
		probeFwd:     tables.ProbeFwd,
		flowlet:      tables.Flowlet,
		hopIncrement: hopIncrement,
	}
}

// Apply runs the probe or data branch. Data packets must carry IPv4 with
// TTL > 0. It returns the branch that produced the forwarding decision, or
// PathNone when the packet was marked to drop.
func (p *Pipeline) Apply(stack *core.HeaderStack, meta *core.Metadata) Path {
	meta.IsProbe = stack.IsProbe()
	if meta.IsProbe {
		return p.applyProbe(stack, meta)
	}
	return p.applyData(stack, meta)
}

// applyProbe records the probe's utilization if it beats the stored value,
// then charges the probe for this hop and forwards it toward its ToR.
//
// The comparison uses the utilization the probe arrived with; this hop's
// increment is added afterwards and is not part of the stored value.
func (p *Pipeline) applyProbe(stack *core.HeaderStack, meta *core.Metadata) Path {
	probe := stack.HULA
	index := p.regs.Index(probe.DstTor)

	meta.PathUtil, meta.BestPort = p.regs.Read(index)
	if probe.PathUtil < meta.PathUtil {
		if p.regs.CompareAndUpdate(index, probe.PathUtil, meta.IngressPort) {
			meta.PathUtil, meta.BestPort = probe.PathUtil, meta.IngressPort
			meta.RegisterUpdated = true
		}
	}

	probe.HopCount++
	probe.PathUtil = saturatingAdd(probe.PathUtil, p.hopIncrement)

	res := p.probeFwd.Lookup(uint64(probe.DstTor))
	if !res.Hit || res.Action != table.ActionSetNhop {
		meta.MarkToDrop(DropProbeMiss)
		return PathNone
	}
	stack.SetNextHop(res.Params.DstMAC)
	meta.EgressPort = res.Params.Port
	return PathProbe
}

// applyData forwards on the best known port for the destination, or via the
// flowlet table when no probe has reported on it.
func (p *Pipeline) applyData(stack *core.HeaderStack, meta *core.Metadata) Path {
	index := p.regs.Index(core.AddrUint32(stack.IPv4.DstAddr))

	meta.PathUtil, meta.BestPort = p.regs.Read(index)
	if meta.BestPort != 0 {
		meta.EgressPort = meta.BestPort
		stack.DecrementTTL()
		return PathAdaptive
	}

	res := p.flowlet.Lookup(table.AddrKey(stack.IPv4.DstAddr))
	if !res.Hit || res.Action != table.ActionSetNhop {
		meta.MarkToDrop(DropFlowletMiss)
		return PathNone
	}
	stack.SetNextHop(res.Params.DstMAC)
	meta.EgressPort = res.Params.Port
	stack.DecrementTTL()
	return PathFallback
}

func saturatingAdd(a, b uint16) uint16 {
	if a > math.MaxUint16-b {
		return math.MaxUint16
	}
	return a + b
}
