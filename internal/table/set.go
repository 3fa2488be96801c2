package table

import (
	"fmt"
	"net/netip"

	"firestige.xyz/mpswitch/internal/core"
)

// Table names used by the forwarding programs.
const (
	ECMPGroup = "ecmp_group"
	ECMPNhop  = "ecmp_nhop"
	Flowlet   = "flowlet_table"
	ProbeFwd  = "probe_fwd_table"
)

// ecmp_nhop keys are group_id(14) ++ hash(16).
const (
	groupIDBits = 14
	hashBits    = 16
)

// Set holds the four tables of one switch.
type Set struct {
	ECMPGroup *Table
	ECMPNhop  *Table
	Flowlet   *Table
	ProbeFwd  *Table
}

// NewSet creates empty tables with their match kinds and key widths.
func NewSet() *Set {
	return &Set{
		ECMPGroup: New(ECMPGroup, MatchLPM, 32),
		ECMPNhop:  New(ECMPNhop, MatchExact, groupIDBits+hashBits),
		Flowlet:   New(Flowlet, MatchLPM, 32),
		ProbeFwd:  New(ProbeFwd, MatchExact, 32),
	}
}

// Get returns the table called name.
func (s *Set) Get(name string) (*Table, error) {
	switch name {
	case ECMPGroup:
		return s.ECMPGroup, nil
	case ECMPNhop:
		return s.ECMPNhop, nil
	case Flowlet:
		return s.Flowlet, nil
	case ProbeFwd:
		return s.ProbeFwd, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrTableNotFound, name)
}

// All returns the tables in a fixed order.
func (s *Set) All() []*Table {
	return []*Table{s.ECMPGroup, s.ECMPNhop, s.Flowlet, s.ProbeFwd}
}

// NhopKey builds the ecmp_nhop key from a group id and a hash value.
func NhopKey(groupID, hash uint16) uint64 {
	return uint64(groupID&(1<<groupIDBits-1))<<hashBits | uint64(hash)
}

// AddrKey returns the key of an IPv4 address.
func AddrKey(a netip.Addr) uint64 {
	return uint64(core.AddrUint32(a))
}

// PrefixRule builds an LPM rule from an IPv4 prefix.
func PrefixRule(p netip.Prefix, action ActionID, params Params) (Rule, error) {
	if !p.Addr().Is4() {
		return Rule{}, fmt.Errorf("prefix %s: %w", p, core.ErrInvalidRule)
	}
	p = p.Masked()
	return Rule{
		Key:       AddrKey(p.Addr()),
		PrefixLen: uint8(p.Bits()),
		Action:    action,
		Params:    params,
	}, nil
}
