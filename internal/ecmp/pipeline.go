// Package ecmp implements static hash-based equal-cost multipath forwarding.
package ecmp

import (
	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/table"
)

// Drop reasons recorded in core.Metadata.
const (
	DropGroupMiss = "ecmp_group_miss"
	DropNoNhops   = "ecmp_no_nhops"
	DropNhopMiss  = "ecmp_nhop_miss"
)

// Pipeline applies ecmp_group then ecmp_nhop. It keeps no per-packet state.
type Pipeline struct {
	group *table.Table
	nhop  *table.Table
	hash  HashFn
}

// New creates an ECMP pipeline over the given tables.
func New(tables *table.Set, hash HashFn) *Pipeline {
	if hash == nil {
		hash = CRC16{}
	}
	return &Pipeline{group: tables.ECMPGroup, nhop: tables.ECMPNhop, hash: hash}
}

// Hash returns the configured hash function.
func (p *Pipeline) Hash() HashFn { return p.hash }

// Apply forwards one packet. The caller guarantees IPv4 is present with
// TTL > 0. On success meta.EgressPort is set, Ethernet is rewritten and the
// TTL decremented; otherwise the packet is marked to drop.
func (p *Pipeline) Apply(stack *core.HeaderStack, meta *core.Metadata) {
	res := p.group.Lookup(table.AddrKey(stack.IPv4.DstAddr))
	if !res.Hit || res.Action != table.ActionSetEcmpGroup {
		meta.MarkToDrop(DropGroupMiss)
		return
	}
	meta.EcmpGroupID = res.Params.GroupID
	meta.NumNhops = res.Params.NumNhops
	if meta.NumNhops == 0 {
		meta.MarkToDrop(DropNoNhops)
		return
	}

	meta.EcmpHash = p.hash.Hash16(stack.FiveTuple()) % meta.NumNhops

	res = p.nhop.Lookup(table.NhopKey(meta.EcmpGroupID, meta.EcmpHash))
	if !res.Hit || res.Action != table.ActionSetNhop {
		meta.MarkToDrop(DropNhopMiss)
		return
	}
	stack.SetNextHop(res.Params.DstMAC)
	meta.EgressPort = res.Params.Port
	stack.DecrementTTL()
}
