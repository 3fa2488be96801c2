package codec

import (
	"encoding/binary"

	"firestige.xyz/mpswitch/internal/core"
)

// decodeTCP decodes the fixed 20-byte TCP header. Options, if any, are left
// in the payload.
func decodeTCP(data []byte) (core.TCPHeader, []byte, bool) {
	if len(data) < core.TCPLen {
		return core.TCPHeader{}, nil, false
	}

	tcp := core.TCPHeader{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		SeqNo:   binary.BigEndian.Uint32(data[4:8]),
		AckNo:   binary.BigEndian.Uint32(data[8:12]),
		// Byte 12: | dataOffset (4) | res (3) | ecn high bit (1) |
		// Byte 13: | ecn low bits (2) | ctrl (6) |
		DataOffset: data[12] >> 4,
		Res:        (data[12] >> 1) & 0x07,
		ECN:        (data[12]&0x01)<<2 | data[13]>>6,
		Ctrl:       data[13] & 0x3F,
		Window:     binary.BigEndian.Uint16(data[14:16]),
		Checksum:   binary.BigEndian.Uint16(data[16:18]),
		UrgentPtr:  binary.BigEndian.Uint16(data[18:20]),
	}
	return tcp, data[core.TCPLen:], true
}

// PutTCP writes tcp into the first 20 bytes of b.
func PutTCP(b []byte, tcp *core.TCPHeader) {
	_ = b[core.TCPLen-1]
	binary.BigEndian.PutUint16(b[0:2], tcp.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], tcp.DstPort)
	binary.BigEndian.PutUint32(b[4:8], tcp.SeqNo)
	binary.BigEndian.PutUint32(b[8:12], tcp.AckNo)
	b[12] = tcp.DataOffset<<4 | (tcp.Res&0x07)<<1 | (tcp.ECN>>2)&0x01
	b[13] = (tcp.ECN&0x03)<<6 | tcp.Ctrl&0x3F
	binary.BigEndian.PutUint16(b[14:16], tcp.Window)
	binary.BigEndian.PutUint16(b[16:18], tcp.Checksum)
	binary.BigEndian.PutUint16(b[18:20], tcp.UrgentPtr)
}

// decodeUDP decodes the 8-byte UDP header.
func decodeUDP(data []byte) (core.UDPHeader, []byte, bool) {
	if len(data) < core.UDPLen {
		return core.UDPHeader{}, nil, false
	}

	udp := core.UDPHeader{
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Length:   binary.BigEndian.Uint16(data[4:6]),
		Checksum: binary.BigEndian.Uint16(data[6:8]),
	}
	return udp, data[core.UDPLen:], true
}

// PutUDP writes udp into the first 8 bytes of b.
func PutUDP(b []byte, udp *core.UDPHeader) {
	_ = b[core.UDPLen-1]
	binary.BigEndian.PutUint16(b[0:2], udp.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], udp.DstPort)
	binary.BigEndian.PutUint16(b[4:6], udp.Length)
	binary.BigEndian.PutUint16(b[6:8], udp.Checksum)
}
