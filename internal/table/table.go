// Package table implements match-action tables with exact and longest-prefix
// matching.
//
// Lookups are lock-free and read an immutable snapshot. Administrative
// operations (Install, Replace, Remove, Clear, SetDefault) are serialised by a mutex
// and publish a fresh snapshot, so a lookup racing an update sees either the
// old or the new rule set, never a mix.
package table

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"firestige.xyz/mpswitch/internal/core"
)

// MatchKind is the match discipline of a table.
type MatchKind uint8

const (
	MatchExact MatchKind = iota
	MatchLPM
)

func (k MatchKind) String() string {
	if k == MatchLPM {
		return "lpm"
	}
	return "exact"
}

// Rule is one table entry. Key is right-aligned in the table's key width.
// PrefixLen is ignored for exact tables.
type Rule struct {
	Key       uint64
	PrefixLen uint8
	Priority  int32
	Action    ActionID
	Params    Params
}

type snapshot struct {
	// rules[l] holds the rules of prefix length l keyed by masked key, in
	// descending priority. Exact tables only populate rules[width].
	rules   map[uint8]map[uint64][]Rule
	lengths []uint8 // populated prefix lengths, longest first
	def     Result
	size    int
}

// Table is a match-action table.
type Table struct {
	name  string
	kind  MatchKind
	width uint8

	mu   sync.Mutex // serialises writers
	snap atomic.Pointer[snapshot]
}

// New creates an empty table whose default action is drop. width is the key
// width in bits (1..64).
func New(name string, kind MatchKind, width uint8) *Table {
	if width == 0 || width > 64 {
		panic(fmt.Sprintf("table %s: invalid key width %d", name, width))
	}
	t := &Table{name: name, kind: kind, width: width}
	t.snap.Store(&snapshot{
		rules: map[uint8]map[uint64][]Rule{},
		def:   Result{Action: ActionDrop},
	})
	return t
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Kind returns the match kind.
func (t *Table) Kind() MatchKind { return t.kind }

// Width returns the key width in bits.
func (t *Table) Width() uint8 { return t.width }

// Len returns the number of installed rules.
func (t *Table) Len() int { return t.snap.Load().size }

func (t *Table) mask(prefixLen uint8) uint64 {
	if prefixLen == 0 {
		return 0
	}
	full := ^uint64(0) >> (64 - uint(t.width))
	return full &^ (full >> uint(prefixLen))
}

// normalize validates r and returns its prefix length and masked key.
func (t *Table) normalize(key uint64, prefixLen uint8) (uint8, uint64, error) {
	if t.width < 64 && key>>uint(t.width) != 0 {
		return 0, 0, fmt.Errorf("table %s: key %#x: %w", t.name, key, core.ErrKeyWidth)
	}
	if t.kind == MatchExact {
		return t.width, key, nil
	}
	if prefixLen > t.width {
		return 0, 0, fmt.Errorf("table %s: prefix length %d > %d: %w", t.name, prefixLen, t.width, core.ErrInvalidRule)
	}
	return prefixLen, key & t.mask(prefixLen), nil
}

// Lookup evaluates key against the table.
//
// LPM selects the longest matching prefix. Rules with equal prefix length that
// match the same key are ordered by descending priority. Exact tables require
// equality over the full key width.
func (t *Table) Lookup(key uint64) Result {
	s := t.snap.Load()
	for _, l := range s.lengths {
		if rs, ok := s.rules[l][key&t.mask(l)]; ok {
			r := rs[0]
			return Result{Hit: true, Action: r.Action, Params: r.Params}
		}
	}
	return s.def
}

// Validate reports whether r can be installed.
func (t *Table) Validate(r Rule) error {
	_, _, err := t.normalize(r.Key, r.PrefixLen)
	return err
}

// Install adds r to the table. A rule with the same match key replaces the
// installed one: for exact tables the key alone identifies a rule, for LPM
// tables the masked key, prefix length and priority do.
func (t *Table) Install(r Rule) error {
	prefixLen, key, err := t.normalize(r.Key, r.PrefixLen)
	if err != nil {
		return err
	}
	r.Key, r.PrefixLen = key, prefixLen

	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.snap.Load().clone()
	if t.insert(next, r) {
		slog.Debug("rule replaced", "table", t.name, "key", fmt.Sprintf("%#x", key),
			"prefix_len", prefixLen, "priority", r.Priority)
	}
	next.reindex()
	t.snap.Store(next)
	return nil
}

// Replace swaps the whole rule set for rules in a single snapshot. Lookups
// see either the old rules or all of the new ones. If any rule is invalid
// the table is left unchanged. The default action is kept.
func (t *Table) Replace(rules []Rule) error {
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		prefixLen, key, err := t.normalize(r.Key, r.PrefixLen)
		if err != nil {
			return err
		}
		r.Key, r.PrefixLen = key, prefixLen
		normalized = append(normalized, r)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := &snapshot{rules: map[uint8]map[uint64][]Rule{}, def: t.snap.Load().def}
	for _, r := range normalized {
		t.insert(next, r)
	}
	next.reindex()
	t.snap.Store(next)
	return nil
}

// insert adds a normalized rule to s and reports whether it replaced one.
func (t *Table) insert(s *snapshot, r Rule) bool {
	rs := slices.Clone(s.rules[r.PrefixLen][r.Key])
	idx := slices.IndexFunc(rs, func(e Rule) bool {
		return t.kind == MatchExact || e.Priority == r.Priority
	})
	if idx >= 0 {
		rs[idx] = r
	} else {
		rs = append(rs, r)
		slices.SortStableFunc(rs, func(a, b Rule) int {
			switch {
			case a.Priority > b.Priority:
				return -1
			case a.Priority < b.Priority:
				return 1
			}
			return 0
		})
		s.size++
	}

	if s.rules[r.PrefixLen] == nil {
		s.rules[r.PrefixLen] = map[uint64][]Rule{}
	}
	s.rules[r.PrefixLen][r.Key] = rs
	return idx >= 0
}

// Remove deletes every rule installed under key (and prefixLen for LPM tables).
func (t *Table) Remove(key uint64, prefixLen uint8) error {
	prefixLen, key, err := t.normalize(key, prefixLen)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.snap.Load()
	rs, ok := old.rules[prefixLen][key]
	if !ok {
		return fmt.Errorf("table %s: key %#x/%d: %w", t.name, key, prefixLen, core.ErrRuleNotFound)
	}

	next := old.clone()
	delete(next.rules[prefixLen], key)
	if len(next.rules[prefixLen]) == 0 {
		delete(next.rules, prefixLen)
	}
	next.size -= len(rs)
	next.reindex()
	t.snap.Store(next)
	return nil
}

// Clear removes every rule. The default action is kept.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	def := t.snap.Load().def
	t.snap.Store(&snapshot{rules: map[uint8]map[uint64][]Rule{}, def: def})
}

// SetDefault replaces the action returned on a miss.
func (t *Table) SetDefault(action ActionID, params Params) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.snap.Load().clone()
	next.def = Result{Action: action, Params: params}
	t.snap.Store(next)
}

// Rules returns the installed rules, longest prefix first.
func (t *Table) Rules() []Rule {
	s := t.snap.Load()
	out := make([]Rule, 0, s.size)
	for _, l := range s.lengths {
		keys := make([]uint64, 0, len(s.rules[l]))
		for k := range s.rules[l] {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			out = append(out, s.rules[l][k]...)
		}
	}
	return out
}

// clone copies the outer maps. Rule slices are shared and must be cloned
// before modification.
func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		rules:   make(map[uint8]map[uint64][]Rule, len(s.rules)),
		lengths: slices.Clone(s.lengths),
		def:     s.def,
		size:    s.size,
	}
	for l, m := range s.rules {
		cp := make(map[uint64][]Rule, len(m))
		for k, rs := range m {
			cp[k] = rs
		}
		next.rules[l] = cp
	}
	return next
}

func (s *snapshot) reindex() {
	s.lengths = make([]uint8, 0, len(s.rules))
	for l := range s.rules {
		s.lengths = append(s.lengths, l)
	}
	slices.SortFunc(s.lengths, func(a, b uint8) int { return int(b) - int(a) })
}
