package ecmp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/mpswitch/internal/core"
)

func TestCRC16CheckValue(t *testing.T) {
	// CRC-16/ARC catalogue check value.
	assert.Equal(t, uint16(0xBB3D), arcChecksum([]byte("123456789")))
}

func TestNewHash(t *testing.T) {
	h, err := NewHash("")
	require.NoError(t, err)
	assert.Equal(t, HashCRC16, h.Name())

	h, err = NewHash(HashFNV1a)
	require.NoError(t, err)
	assert.Equal(t, HashFNV1a, h.Name())

	_, err = NewHash("identity")
	assert.ErrorIs(t, err, core.ErrUnknownHash)
}

func TestHashDeterministic(t *testing.T) {
	tuple := core.FiveTuple{SrcAddr: 0x0A000101, DstAddr: 0x0A000207, Protocol: 6, SrcPort: 40000, DstPort: 80}
	for _, h := range []HashFn{CRC16{}, FNV1a{}} {
		first := h.Hash16(tuple)
		for i := 0; i < 100; i++ {
			assert.Equal(t, first, h.Hash16(tuple), h.Name())
		}
	}
	// Pinned value: any change here breaks cross-run flow placement.
	assert.Equal(t, uint16(0x5CB6), CRC16{}.Hash16(tuple))
	assert.Equal(t, CRC16{}.Hash16(tuple), arcChecksum([]byte{
		0x0A, 0x00, 0x01, 0x01, 0x0A, 0x00, 0x02, 0x07, 0x06, 0x9C, 0x40, 0x00, 0x50,
	}))
}

func TestHashDistribution(t *testing.T) {
	const samples = 20000
	for _, h := range []HashFn{CRC16{}, FNV1a{}} {
		for _, nhops := range []uint16{2, 3, 4, 8} {
			rng := rand.New(rand.NewSource(42))
			counts := make([]int, nhops)
			for i := 0; i < samples; i++ {
				tuple := core.FiveTuple{
					SrcAddr:  rng.Uint32(),
					DstAddr:  rng.Uint32(),
					Protocol: core.ProtoTCP,
					SrcPort:  uint16(rng.Intn(1 << 16)),
					DstPort:  uint16(rng.Intn(1 << 16)),
				}
				counts[h.Hash16(tuple)%nhops]++
			}
			want := float64(samples) / float64(nhops)
			for bucket, c := range counts {
				assert.InDelta(t, want, float64(c), want*0.1,
					"%s nhops=%d bucket=%d", h.Name(), nhops, bucket)
			}
		}
	}
}
