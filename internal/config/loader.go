package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"firestige.xyz/mpswitch/internal/core"
)

// Topology is the rules file consumed by the control plane. JSON is valid
// YAML, so controller-style topology.json files load unchanged.
type Topology struct {
	Switches    []SwitchTopology `yaml:"switches"`
	ProbeConfig ProbeTopology    `yaml:"probe_config"`
}

// SwitchTopology holds the table contents of one switch.
type SwitchTopology struct {
	SwitchID       string         `yaml:"switch_id"`
	ECMPGroups     []ECMPGroup    `yaml:"ecmp_groups"`
	FlowletEntries []FlowletEntry `yaml:"flowlet_entries"`
	ProbeEntries   []ProbeEntry   `yaml:"probe_entries"`
}

// ECMPGroup is one ecmp_group entry and its next hops. The position of a
// next hop in NextHops is its hash index in ecmp_nhop.
type ECMPGroup struct {
	DstPrefix string    `yaml:"dst_prefix"`
	GroupID   uint16    `yaml:"group_id"`
	NextHops  []NextHop `yaml:"next_hops"`
}

// NextHop is an egress port and the MAC written as Ethernet destination.
type NextHop struct {
	Port uint16 `yaml:"port"`
	MAC  string `yaml:"mac"`
}

// FlowletEntry is one flowlet_table entry.
type FlowletEntry struct {
	DstPrefix string `yaml:"dst_prefix"`
	Port      uint16 `yaml:"port"`
	MAC       string `yaml:"mac"`
}

// ProbeEntry is one probe_fwd_table entry.
type ProbeEntry struct {
	DstTorID uint32 `yaml:"dst_tor_id"`
	Port     uint16 `yaml:"port"`
	MAC      string `yaml:"mac"`
}

// ProbeTopology lists the probes a probe injector emits every interval.
type ProbeTopology struct {
	Probes []ProbeSpec `yaml:"probes"`
}

// ProbeSpec describes one injected probe.
type ProbeSpec struct {
	DstTorID uint32 `yaml:"dst_tor_id"`
	SrcMAC   string `yaml:"src_mac"`
	DstMAC   string `yaml:"dst_mac"`
}

// LoadTopology reads and validates a topology file.
func LoadTopology(path string) (*Topology, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("topology file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file %s: %w", path, err)
	}

	return ParseTopology(data)
}

// ParseTopology decodes and validates topology YAML/JSON.
func ParseTopology(data []byte) (*Topology, error) {
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return &topo, nil
}

// Switch returns the topology of the switch called id.
func (t *Topology) Switch(id string) (*SwitchTopology, bool) {
	for i := range t.Switches {
		if t.Switches[i].SwitchID == id {
			return &t.Switches[i], true
		}
	}
	return nil, false
}

// Validate checks every prefix, MAC, port and group id in the topology.
func (t *Topology) Validate() error {
	ids := make(map[string]bool, len(t.Switches))
	for _, sw := range t.Switches {
		if sw.SwitchID == "" {
			return fmt.Errorf("%w: switch without switch_id", core.ErrConfigInvalid)
		}
		if ids[sw.SwitchID] {
			return fmt.Errorf("%w: duplicate switch_id %q", core.ErrConfigInvalid, sw.SwitchID)
		}
		ids[sw.SwitchID] = true

		for _, g := range sw.ECMPGroups {
			if _, err := ParsePrefix(g.DstPrefix); err != nil {
				return fmt.Errorf("switch %s group %d: %w", sw.SwitchID, g.GroupID, err)
			}
			if g.GroupID >= 1<<14 {
				return fmt.Errorf("%w: switch %s: group_id %d exceeds 14 bits", core.ErrConfigInvalid, sw.SwitchID, g.GroupID)
			}
			for _, nh := range g.NextHops {
				if err := validateHop(nh.Port, nh.MAC); err != nil {
					return fmt.Errorf("switch %s group %d: %w", sw.SwitchID, g.GroupID, err)
				}
			}
		}
		for _, e := range sw.FlowletEntries {
			if _, err := ParsePrefix(e.DstPrefix); err != nil {
				return fmt.Errorf("switch %s flowlet: %w", sw.SwitchID, err)
			}
			if err := validateHop(e.Port, e.MAC); err != nil {
				return fmt.Errorf("switch %s flowlet %s: %w", sw.SwitchID, e.DstPrefix, err)
			}
		}
		for _, e := range sw.ProbeEntries {
			if err := validateHop(e.Port, e.MAC); err != nil {
				return fmt.Errorf("switch %s probe tor %d: %w", sw.SwitchID, e.DstTorID, err)
			}
		}
	}
	for _, p := range t.ProbeConfig.Probes {
		if _, err := ParseMAC(p.SrcMAC); err != nil {
			return fmt.Errorf("probe tor %d: %w", p.DstTorID, err)
		}
		if _, err := ParseMAC(p.DstMAC); err != nil {
			return fmt.Errorf("probe tor %d: %w", p.DstTorID, err)
		}
	}
	return nil
}

func validateHop(port uint16, mac string) error {
	if port == 0 || port > uint16(core.PortMask) {
		return fmt.Errorf("%w: port %d outside 1..%d", core.ErrConfigInvalid, port, core.PortMask)
	}
	_, err := ParseMAC(mac)
	return err
}

// ParsePrefix parses an IPv4 CIDR prefix.
func ParsePrefix(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil || !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("%w: prefix %q", core.ErrConfigInvalid, s)
	}
	return p, nil
}

// ParseMAC parses a 48-bit MAC address.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return mac, fmt.Errorf("%w: mac %q", core.ErrConfigInvalid, s)
	}
	copy(mac[:], hw)
	return mac, nil
}
