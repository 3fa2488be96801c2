package codec

import (
	"encoding/binary"

	"firestige.xyz/mpswitch/internal/core"
)

// decodeEthernet decodes the 14-byte Ethernet header.
// Returns EthernetHeader and remaining payload.
func decodeEthernet(data []byte) (core.EthernetHeader, []byte, error) {
	if len(data) < core.EthernetLen {
		return core.EthernetHeader{}, nil, core.ErrPacketTooShort
	}

	eth := core.EthernetHeader{}
	copy(eth.DstMAC[:], data[0:6])
	copy(eth.SrcMAC[:], data[6:12])
	eth.EtherType = binary.BigEndian.Uint16(data[12:14])

	return eth, data[core.EthernetLen:], nil
}

// PutEthernet writes eth into the first 14 bytes of b.
func PutEthernet(b []byte, eth *core.EthernetHeader) {
	_ = b[core.EthernetLen-1]
	copy(b[0:6], eth.DstMAC[:])
	copy(b[6:12], eth.SrcMAC[:])
	binary.BigEndian.PutUint16(b[12:14], eth.EtherType)
}
