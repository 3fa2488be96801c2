package control

import (
	"fmt"
	"net/netip"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/table"
)

// RuleSpec is the wire form of a rule, shared by the command channels and
// the CLI. How the match key is given depends on the table:
//
//	ecmp_group, flowlet_table  Prefix ("10.0.2.0/24")
//	ecmp_nhop                  GroupID and Hash
//	probe_fwd_table            Key (the destination ToR id)
type RuleSpec struct {
	Table    string `json:"table"`
	Prefix   string `json:"prefix,omitempty"`
	Key      uint64 `json:"key,omitempty"`
	GroupID  uint16 `json:"group_id,omitempty"`
	Hash     uint16 `json:"hash,omitempty"`
	Priority int32  `json:"priority,omitempty"`

	Action   string `json:"action,omitempty"`
	NumNhops uint16 `json:"num_nhops,omitempty"`
	Port     uint16 `json:"port,omitempty"`
	MAC      string `json:"mac,omitempty"`
}

// MatchKey returns the table key and prefix length named by the spec.
func (s RuleSpec) MatchKey(tables *table.Set) (key uint64, prefixLen uint8, err error) {
	t, err := tables.Get(s.Table)
	if err != nil {
		return 0, 0, err
	}

	switch {
	case t.Kind() == table.MatchLPM:
		prefix, err := config.ParsePrefix(s.Prefix)
		if err != nil {
			return 0, 0, err
		}
		prefix = prefix.Masked()
		return table.AddrKey(prefix.Addr()), uint8(prefix.Bits()), nil
	case s.Table == table.ECMPNhop:
		return table.NhopKey(s.GroupID, s.Hash), 0, nil
	default:
		return s.Key, 0, nil
	}
}

// Rule converts the spec into a table rule.
func (s RuleSpec) Rule(tables *table.Set) (table.Rule, error) {
	key, prefixLen, err := s.MatchKey(tables)
	if err != nil {
		return table.Rule{}, err
	}
	action, err := table.ParseAction(s.Action)
	if err != nil {
		return table.Rule{}, err
	}

	params := table.Params{GroupID: s.GroupID, NumNhops: s.NumNhops}
	if action == table.ActionSetNhop {
		if s.Port == 0 || s.Port > uint16(core.PortMask) {
			return table.Rule{}, fmt.Errorf("%w: port %d", core.ErrInvalidRule, s.Port)
		}
		mac, err := config.ParseMAC(s.MAC)
		if err != nil {
			return table.Rule{}, fmt.Errorf("%w: %v", core.ErrInvalidRule, err)
		}
		params = table.Params{DstMAC: mac, Port: core.Port(s.Port)}
	}

	return table.Rule{
		Key:       key,
		PrefixLen: prefixLen,
		Priority:  s.Priority,
		Action:    action,
		Params:    params,
	}, nil
}

// SpecFromRule renders an installed rule of the named table back into its
// wire form.
func SpecFromRule(name string, kind table.MatchKind, r table.Rule) RuleSpec {
	s := RuleSpec{
		Table:    name,
		Priority: r.Priority,
		Action:   r.Action.String(),
	}

	switch {
	case kind == table.MatchLPM:
		s.Prefix = netip.PrefixFrom(core.AddrFromUint32(uint32(r.Key)), int(r.PrefixLen)).String()
	case name == table.ECMPNhop:
		s.GroupID = uint16(r.Key >> 16)
		s.Hash = uint16(r.Key)
	default:
		s.Key = r.Key
	}

	switch r.Action {
	case table.ActionSetEcmpGroup:
		s.GroupID = r.Params.GroupID
		s.NumNhops = r.Params.NumNhops
	case table.ActionSetNhop:
		s.Port = uint16(r.Params.Port)
		s.MAC = macString(r.Params.DstMAC)
	}
	return s
}

func macString(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
