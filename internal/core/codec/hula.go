package codec

import (
	"encoding/binary"

	"firestige.xyz/mpswitch/internal/core"
)

// decodeHULA decodes the 12-byte probe header:
// type(8) hop_count(8) path_util(16) timestamp(32) dst_tor(32).
func decodeHULA(data []byte) (core.HULAHeader, []byte, bool) {
	if len(data) < core.HULALen {
		return core.HULAHeader{}, nil, false
	}

	probe := core.HULAHeader{
		Type:      data[0],
		HopCount:  data[1],
		PathUtil:  binary.BigEndian.Uint16(data[2:4]),
		Timestamp: binary.BigEndian.Uint32(data[4:8]),
		DstTor:    binary.BigEndian.Uint32(data[8:12]),
	}
	return probe, data[core.HULALen:], true
}

// PutHULA writes probe into the first 12 bytes of b.
func PutHULA(b []byte, probe *core.HULAHeader) {
	_ = b[core.HULALen-1]
	b[0] = probe.Type
	b[1] = probe.HopCount
	binary.BigEndian.PutUint16(b[2:4], probe.PathUtil)
	binary.BigEndian.PutUint32(b[4:8], probe.Timestamp)
	binary.BigEndian.PutUint32(b[8:12], probe.DstTor)
}
