// Package checksum implements the IPv4 header checksum and the TCP checksum
// over the IPv4 pseudo-header.
package checksum

import (
	"encoding/binary"

	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/core/codec"
)

// Engine recomputes checksums after header mutation.
type Engine interface {
	// Update rewrites the IPv4 and TCP checksum fields of stack in place.
	// payload is the residual byte stream following the parsed headers.
	Update(stack *core.HeaderStack, meta *core.Metadata, payload []byte)
}

// Standard recomputes the IPv4 checksum whenever IPv4 is present and the TCP
// checksum whenever TCP is present. UDP checksums are left untouched.
type Standard struct{}

// Update implements Engine.
func (Standard) Update(stack *core.HeaderStack, meta *core.Metadata, payload []byte) {
	if stack.IPv4 == nil {
		return
	}
	stack.IPv4.Checksum = IPv4(stack.IPv4)

	if stack.TCP != nil {
		stack.TCP.Checksum = TCP(stack.IPv4, stack.TCP, tcpPayload(meta.L4Len, payload))
	}
}

// tcpPayload trims the residual bytes to the TCP segment length so that
// Ethernet trailer padding is not summed.
func tcpPayload(l4Len uint16, payload []byte) []byte {
	n := int(l4Len) - core.TCPLen
	if n < 0 {
		n = 0
	}
	if n > len(payload) {
		n = len(payload)
	}
	return payload[:n]
}

// IPv4 returns the header checksum of ip, options included, computed with
// the checksum field zeroed.
func IPv4(ip *core.IPv4Header) uint16 {
	b := make([]byte, ip.HeaderLen())
	codec.PutIPv4(b, ip)
	b[10], b[11] = 0, 0
	return ^fold(sum(0, b))
}

// VerifyIPv4 reports whether the checksum carried by ip is valid.
func VerifyIPv4(ip *core.IPv4Header) bool {
	b := make([]byte, ip.HeaderLen())
	codec.PutIPv4(b, ip)
	return fold(sum(0, b)) == 0xFFFF
}

// TCP returns the TCP checksum over the pseudo-header (src, dst, zero,
// protocol, TCP length), the TCP header with its checksum zeroed, and payload.
// The TCP length is the header length plus len(payload).
func TCP(ip *core.IPv4Header, tcp *core.TCPHeader, payload []byte) uint16 {
	var b [core.TCPLen]byte
	codec.PutTCP(b[:], tcp)
	b[16], b[17] = 0, 0

	s := pseudoHeader(ip, uint16(core.TCPLen+len(payload)))
	s = sum(s, b[:])
	s = sum(s, payload)
	return ^fold(s)
}

// VerifyTCP reports whether the checksum carried by tcp is valid for payload.
func VerifyTCP(ip *core.IPv4Header, tcp *core.TCPHeader, payload []byte) bool {
	var b [core.TCPLen]byte
	codec.PutTCP(b[:], tcp)

	s := pseudoHeader(ip, uint16(core.TCPLen+len(payload)))
	s = sum(s, b[:])
	s = sum(s, payload)
	return fold(s) == 0xFFFF
}

func pseudoHeader(ip *core.IPv4Header, length uint16) uint32 {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], core.AddrUint32(ip.SrcAddr))
	binary.BigEndian.PutUint32(b[4:8], core.AddrUint32(ip.DstAddr))
	b[9] = ip.Protocol
	binary.BigEndian.PutUint16(b[10:12], length)
	return sum(0, b[:])
}

// sum adds data to s as a sequence of big-endian 16-bit words. An odd
// trailing byte is padded with zero.
func sum(s uint32, data []byte) uint32 {
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		s += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if n%2 == 1 {
		s += uint32(data[n-1]) << 8
	}
	return s
}

// fold reduces a 32-bit accumulator to a 16-bit ones'-complement sum.
func fold(s uint32) uint16 {
	for s > 0xFFFF {
		s = (s >> 16) + (s & 0xFFFF)
	}
	return uint16(s)
}
