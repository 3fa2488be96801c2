package codec

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/mpswitch/internal/core"
)

// decodeIPv4 decodes the IPv4 header and its options. IHL is carried
// verbatim; values below 5 are malformed and parse as a bare 20-byte header.
func decodeIPv4(data []byte) (core.IPv4Header, []byte, bool) {
	if len(data) < core.IPv4Len {
		return core.IPv4Header{}, nil, false
	}
	hdrLen := core.IPv4Len
	if ihl := int(data[0] & 0x0F); ihl > 5 {
		hdrLen = ihl * 4
		if len(data) < hdrLen {
			return core.IPv4Header{}, nil, false
		}
	}

	ip := core.IPv4Header{
		Version:  data[0] >> 4,
		IHL:      data[0] & 0x0F,
		DiffServ: data[1],
		TotalLen: binary.BigEndian.Uint16(data[2:4]),
		ID:       binary.BigEndian.Uint16(data[4:6]),
		TTL:      data[8],
		Protocol: data[9],
		Checksum: binary.BigEndian.Uint16(data[10:12]),
		SrcAddr:  netip.AddrFrom4([4]byte(data[12:16])),
		DstAddr:  netip.AddrFrom4([4]byte(data[16:20])),
	}

	// Flags (3 bits) and Fragment Offset (13 bits)
	flagsOffset := binary.BigEndian.Uint16(data[6:8])
	ip.Flags = uint8(flagsOffset >> 13)
	ip.FragOffset = flagsOffset & 0x1FFF

	if hdrLen > core.IPv4Len {
		ip.Options = append([]byte(nil), data[core.IPv4Len:hdrLen]...)
	}

	return ip, data[hdrLen:], true
}

// PutIPv4 writes ip, options included, into the first ip.HeaderLen() bytes of b.
func PutIPv4(b []byte, ip *core.IPv4Header) {
	_ = b[ip.HeaderLen()-1]
	b[0] = ip.Version<<4 | ip.IHL&0x0F
	b[1] = ip.DiffServ
	binary.BigEndian.PutUint16(b[2:4], ip.TotalLen)
	binary.BigEndian.PutUint16(b[4:6], ip.ID)
	binary.BigEndian.PutUint16(b[6:8], uint16(ip.Flags&0x07)<<13|ip.FragOffset&0x1FFF)
	b[8] = ip.TTL
	b[9] = ip.Protocol
	binary.BigEndian.PutUint16(b[10:12], ip.Checksum)
	putAddr(b[12:16], ip.SrcAddr)
	putAddr(b[16:20], ip.DstAddr)
	copy(b[core.IPv4Len:], ip.Options)
}

func putAddr(b []byte, a netip.Addr) {
	if !a.Is4() {
		clear(b[:4])
		return
	}
	v := a.As4()
	copy(b, v[:])
}
