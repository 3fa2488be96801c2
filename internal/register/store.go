// Package register implements the per-switch HULA register arrays.
//
// path_util (16 bits) and best_port (9 bits) for one index are packed into a
// single 32-bit word so that a reader never observes the utilization of one
// probe paired with the port of another, and so that the probe's
// compare-and-update is a single compare-and-swap loop.
package register

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"firestige.xyz/mpswitch/internal/core"
)

const (
	// DefaultSize is the number of entries in each register array.
	DefaultSize = 8192

	// UtilSentinel marks an index no probe has reported on.
	UtilSentinel uint16 = 0xFFFF
	// PortSentinel marks an index with no known best port.
	PortSentinel core.Port = 0
)

// Debug makes out-of-range raw indexes panic instead of being masked.
var Debug = false

func pack(util uint16, port core.Port) uint32 {
	return uint32(util)<<16 | uint32(port&core.PortMask)
}

func unpack(v uint32) (uint16, core.Port) {
	return uint16(v >> 16), core.Port(v) & core.PortMask
}

var initial = pack(UtilSentinel, PortSentinel)

// Store holds path_util and best_port for one switch.
type Store struct {
	cells []atomic.Uint32
	mask  uint32
}

// New creates a store with size entries, all at their sentinels. size must
// be a power of two.
func New(size int) (*Store, error) {
	if size <= 0 || bits.OnesCount(uint(size)) != 1 || size > 1<<24 {
		return nil, fmt.Errorf("%w: %d", core.ErrRegisterSize, size)
	}
	s := &Store{
		cells: make([]atomic.Uint32, size),
		mask:  uint32(size - 1),
	}
	s.ResetAll()
	return s, nil
}

// Size returns the number of entries.
func (s *Store) Size() int { return len(s.cells) }

// Index reduces a destination identifier (ToR id or IPv4 address) to the
// store's index domain by keeping its low-order bits.
func (s *Store) Index(key uint32) uint32 {
	return key & s.mask
}

func (s *Store) cell(index uint32) *atomic.Uint32 {
	if index > s.mask {
		if Debug {
			panic(fmt.Sprintf("register: index %d out of range [0,%d]", index, s.mask))
		}
		index &= s.mask
	}
	return &s.cells[index]
}

// Read returns path_util and best_port at index as one consistent pair.
func (s *Store) Read(index uint32) (util uint16, port core.Port) {
	return unpack(s.cell(index).Load())
}

// CompareAndUpdate stores (util, port) at index if util is strictly lower
// than the stored utilization, and reports whether it did. Concurrent callers
// on the same index are linearised: the stored value only ever decreases and
// the first caller to reach a given minimum keeps its port.
func (s *Store) CompareAndUpdate(index uint32, util uint16, port core.Port) bool {
	c := s.cell(index)
	next := pack(util, port)
	for {
		old := c.Load()
		if cur, _ := unpack(old); util >= cur {
			return false
		}
		if c.CompareAndSwap(old, next) {
			return true
		}
	}
}

// Reset returns index to its sentinels.
func (s *Store) Reset(index uint32) {
	s.cell(index).Store(initial)
}

// ResetAll returns every index to its sentinels.
func (s *Store) ResetAll() {
	for i := range s.cells {
		s.cells[i].Store(initial)
	}
}

// Entry is one populated register index.
type Entry struct {
	Index    uint32
	PathUtil uint16
	BestPort core.Port
}

// Snapshot returns every index that differs from its sentinels. Entries are
// read one at a time and are not a point-in-time view of the whole store.
func (s *Store) Snapshot() []Entry {
	var out []Entry
	for i := range s.cells {
		v := s.cells[i].Load()
		if v == initial {
			continue
		}
		util, port := unpack(v)
		out = append(out, Entry{Index: uint32(i), PathUtil: util, BestPort: port})
	}
	return out
}
