// Package core defines header and per-packet types with zero external dependencies.
package core

import "net/netip"

// EtherType values recognised by the parser.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeHULA uint16 = 0x1234
)

// IP protocol numbers recognised by the parser.
const (
	ProtoTCP uint8 = 6
	ProtoUDP uint8 = 17
)

// HULAProbeRequest is the probe type stamped by probe generators.
const HULAProbeRequest uint8 = 1

// Fixed on-wire header lengths in bytes.
const (
	EthernetLen = 14
	HULALen     = 12
	IPv4Len     = 20
	TCPLen      = 20
	UDPLen      = 8
)

// Port is a 9-bit switch port number. Port 0 is reserved as "no port".
type Port = uint16

// PortMask keeps the low 9 bits of a port value.
const PortMask Port = 0x1FF

// EthernetHeader is dstMAC(48) srcMAC(48) etherType(16).
type EthernetHeader struct {
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16
}

// IPv4Header carries the IPv4 header. Options holds the IHL*4-20 option
// bytes when IHL > 5.
type IPv4Header struct {
	Version    uint8 // 4 bits
	IHL        uint8 // 4 bits
	DiffServ   uint8
	TotalLen   uint16
	ID         uint16
	Flags      uint8  // 3 bits
	FragOffset uint16 // 13 bits
	TTL        uint8
	Protocol   uint8
	Checksum   uint16
	SrcAddr    netip.Addr
	DstAddr    netip.Addr
	Options    []byte
}

// HeaderLen returns the encoded header length including options.
func (h *IPv4Header) HeaderLen() int {
	return IPv4Len + len(h.Options)
}

// TCPHeader carries the fixed 20-byte TCP header.
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNo      uint32
	AckNo      uint32
	DataOffset uint8 // 4 bits
	Res        uint8 // 3 bits
	ECN        uint8 // 3 bits
	Ctrl       uint8 // 6 bits
	Window     uint16
	Checksum   uint16
	UrgentPtr  uint16
}

// UDPHeader is srcPort(16) dstPort(16) len(16) checksum(16).
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// HULAHeader is the utilization probe header carried directly after Ethernet.
type HULAHeader struct {
	Type      uint8
	HopCount  uint8
	PathUtil  uint16
	Timestamp uint32
	DstTor    uint32
}
