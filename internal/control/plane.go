// Package control implements the control-plane surface of a switch: rule
// installation, register access, topology population and the command
// channels that expose them.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/metrics"
	"firestige.xyz/mpswitch/internal/register"
	"firestige.xyz/mpswitch/internal/table"
)

// Plane administers the tables and registers of one switch.
type Plane struct {
	switchID string
	tables   *table.Set
	regs     *register.Store
}

// New creates a control plane for one switch.
func New(switchID string, tables *table.Set, regs *register.Store) *Plane {
	return &Plane{switchID: switchID, tables: tables, regs: regs}
}

// SwitchID returns the switch this plane administers.
func (p *Plane) SwitchID() string { return p.switchID }

// InstallRule installs r into the named table.
func (p *Plane) InstallRule(name string, r table.Rule) error {
	t, err := p.tables.Get(name)
	if err != nil {
		return err
	}
	if err := t.Install(r); err != nil {
		return fmt.Errorf("install into %s: %w", name, err)
	}
	p.publishTable(t)
	return nil
}

// RemoveRule removes the rule with key/prefixLen from the named table.
// prefixLen is ignored by exact tables.
func (p *Plane) RemoveRule(name string, key uint64, prefixLen uint8) error {
	t, err := p.tables.Get(name)
	if err != nil {
		return err
	}
	if err := t.Remove(key, prefixLen); err != nil {
		return fmt.Errorf("remove from %s: %w", name, err)
	}
	p.publishTable(t)
	return nil
}

// Rules lists the rules of the named table.
func (p *Plane) Rules(name string) ([]table.Rule, error) {
	t, err := p.tables.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Rules(), nil
}

// ClearTable removes every rule from the named table.
func (p *Plane) ClearTable(name string) error {
	t, err := p.tables.Get(name)
	if err != nil {
		return err
	}
	t.Clear()
	p.publishTable(t)
	return nil
}

// ClearAll empties every table and resets every register.
func (p *Plane) ClearAll() {
	for _, t := range p.tables.All() {
		t.Clear()
		p.publishTable(t)
	}
	p.regs.ResetAll()
	slog.Info("tables cleared and registers reset", "switch_id", p.switchID)
}

// ReadRegister returns the register entry for key, reduced to an index.
func (p *Plane) ReadRegister(key uint32) register.Entry {
	index := p.regs.Index(key)
	util, port := p.regs.Read(index)
	return register.Entry{Index: index, PathUtil: util, BestPort: port}
}

// ResetRegister restores the sentinels at the index for key.
func (p *Plane) ResetRegister(key uint32) {
	p.regs.Reset(p.regs.Index(key))
}

// ResetRegisters restores every register to its sentinels.
func (p *Plane) ResetRegisters() {
	p.regs.ResetAll()
}

// Registers returns every populated register entry.
func (p *Plane) Registers() []register.Entry {
	return p.regs.Snapshot()
}

// Populate replaces the table contents of one switch with those described by
// the topology. Each ECMP group becomes one ecmp_group rule and one ecmp_nhop
// rule per next hop, keyed by the next hop's position in the group.
//
// Every rule is built and validated before any table changes, so an invalid
// topology leaves the switch untouched. Each table is then swapped in a single
// snapshot; rules absent from the topology are dropped.
func (p *Plane) Populate(st *config.SwitchTopology) error {
	rules, err := buildRules(st)
	if err != nil {
		return err
	}

	tables := p.tables.All()
	for _, t := range tables {
		for _, r := range rules[t.Name()] {
			if err := t.Validate(r); err != nil {
				return fmt.Errorf("populate %s: %w", t.Name(), err)
			}
		}
	}

	var installed int
	for _, t := range tables {
		if err := t.Replace(rules[t.Name()]); err != nil {
			return fmt.Errorf("populate %s: %w", t.Name(), err)
		}
		p.publishTable(t)
		installed += t.Len()
	}

	slog.Info("switch populated from topology",
		"switch_id", p.switchID,
		"rules", installed,
		"ecmp_groups", len(st.ECMPGroups),
		"flowlet_entries", len(st.FlowletEntries),
		"probe_entries", len(st.ProbeEntries))
	return nil
}

// buildRules translates a switch topology into rules per table name.
func buildRules(st *config.SwitchTopology) (map[string][]table.Rule, error) {
	rules := make(map[string][]table.Rule, 4)

	for _, g := range st.ECMPGroups {
		prefix, err := config.ParsePrefix(g.DstPrefix)
		if err != nil {
			return nil, fmt.Errorf("ecmp group %d: %w", g.GroupID, err)
		}
		r, err := table.PrefixRule(prefix, table.ActionSetEcmpGroup, table.Params{
			GroupID:  g.GroupID,
			NumNhops: uint16(len(g.NextHops)),
		})
		if err != nil {
			return nil, err
		}
		rules[table.ECMPGroup] = append(rules[table.ECMPGroup], r)

		for idx, nh := range g.NextHops {
			mac, err := config.ParseMAC(nh.MAC)
			if err != nil {
				return nil, fmt.Errorf("ecmp group %d next hop %d: %w", g.GroupID, idx, err)
			}
			rules[table.ECMPNhop] = append(rules[table.ECMPNhop], table.Rule{
				Key:    table.NhopKey(g.GroupID, uint16(idx)),
				Action: table.ActionSetNhop,
				Params: table.Params{DstMAC: mac, Port: core.Port(nh.Port)},
			})
		}
	}

	for _, e := range st.FlowletEntries {
		prefix, err := config.ParsePrefix(e.DstPrefix)
		if err != nil {
			return nil, fmt.Errorf("flowlet entry: %w", err)
		}
		mac, err := config.ParseMAC(e.MAC)
		if err != nil {
			return nil, fmt.Errorf("flowlet entry %s: %w", e.DstPrefix, err)
		}
		r, err := table.PrefixRule(prefix, table.ActionSetNhop, table.Params{DstMAC: mac, Port: core.Port(e.Port)})
		if err != nil {
			return nil, err
		}
		rules[table.Flowlet] = append(rules[table.Flowlet], r)
	}

	for _, e := range st.ProbeEntries {
		mac, err := config.ParseMAC(e.MAC)
		if err != nil {
			return nil, fmt.Errorf("probe entry tor %d: %w", e.DstTorID, err)
		}
		rules[table.ProbeFwd] = append(rules[table.ProbeFwd], table.Rule{
			Key:    uint64(e.DstTorID),
			Action: table.ActionSetNhop,
			Params: table.Params{DstMAC: mac, Port: core.Port(e.Port)},
		})
	}
	return rules, nil
}

// PublishRegisters exports path_util and best_port gauges for keys, or for
// every populated index when keys is empty.
func (p *Plane) PublishRegisters(keys []uint32) {
	var entries []register.Entry
	if len(keys) == 0 {
		entries = p.regs.Snapshot()
	} else {
		entries = make([]register.Entry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, p.ReadRegister(k))
		}
	}
	for _, e := range entries {
		idx := strconv.FormatUint(uint64(e.Index), 10)
		metrics.PathUtil.WithLabelValues(p.switchID, idx).Set(float64(e.PathUtil))
		metrics.BestPort.WithLabelValues(p.switchID, idx).Set(float64(e.BestPort))
	}
}

// RunCollector publishes register gauges every interval until ctx is done.
func (p *Plane) RunCollector(ctx context.Context, interval time.Duration, keys []uint32) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PublishRegisters(keys)
		}
	}
}

func (p *Plane) publishTable(t *table.Table) {
	metrics.TableRules.WithLabelValues(p.switchID, t.Name()).Set(float64(t.Len()))
}
