package ecmp

import (
	"fmt"

	"github.com/sigurn/crc16"

	"firestige.xyz/mpswitch/internal/core"
)

// HashFn maps a 5-tuple to a 16-bit value. Implementations must be pure:
// the same tuple always yields the same hash, across runs and processes.
type HashFn interface {
	Name() string
	Hash16(t core.FiveTuple) uint16
}

// Hash names accepted by NewHash.
const (
	HashCRC16 = "crc16"
	HashFNV1a = "fnv1a"
)

// NewHash returns the hash function called name. An empty name selects CRC-16.
func NewHash(name string) (HashFn, error) {
	switch name {
	case "", HashCRC16:
		return CRC16{}, nil
	case HashFNV1a:
		return FNV1a{}, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownHash, name)
}

// arcTable is CRC-16/ARC: polynomial 0x8005 reflected, init 0, no final
// xor. This is the crc16 extern of the BMv2 simple switch.
var arcTable = crc16.MakeTable(crc16.CRC16_ARC)

func arcChecksum(data []byte) uint16 {
	return crc16.Checksum(data, arcTable)
}

// CRC16 hashes the 13-byte big-endian tuple (src, dst, proto, sport, dport)
// with CRC-16/ARC.
type CRC16 struct{}

// Name implements HashFn.
func (CRC16) Name() string { return HashCRC16 }

// Hash16 implements HashFn.
func (CRC16) Hash16(t core.FiveTuple) uint16 {
	b := t.Bytes()
	return arcChecksum(b[:])
}

const (
	fnv1aOffset32 uint32 = 2166136261
	fnv1aPrime32  uint32 = 16777619
)

// FNV1a hashes the same 13 bytes with 32-bit FNV-1a and xor-folds the result
// to 16 bits.
type FNV1a struct{}

// Name implements HashFn.
func (FNV1a) Name() string { return HashFNV1a }

// Hash16 implements HashFn.
func (FNV1a) Hash16(t core.FiveTuple) uint16 {
	b := t.Bytes()
	h := fnv1aOffset32
	for _, c := range b {
		h = (h ^ uint32(c)) * fnv1aPrime32
	}
	return uint16(h>>16) ^ uint16(h)
}
