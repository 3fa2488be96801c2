// Package core defines core data structures with zero external dependencies.
package core

import (
	"encoding/binary"
	"net/netip"
)

// HeaderStack is the parsed header stack of one packet. A nil pointer means
// the header is absent. At most one of TCP and UDP is set, and HULA is only
// set when Ethernet.EtherType is EtherTypeHULA.
type HeaderStack struct {
	Ethernet EthernetHeader
	HULA     *HULAHeader
	IPv4     *IPv4Header
	TCP      *TCPHeader
	UDP      *UDPHeader
}

// IsProbe reports whether the packet is a HULA probe.
func (s *HeaderStack) IsProbe() bool {
	return s.HULA != nil
}

// L4Length returns the TCP/UDP length derived from the IPv4 total length,
// or 0 when IPv4 is absent or the total length is shorter than the header.
func (s *HeaderStack) L4Length() uint16 {
	if s.IPv4 == nil || int(s.IPv4.TotalLen) < s.IPv4.HeaderLen() {
		return 0
	}
	return s.IPv4.TotalLen - uint16(s.IPv4.HeaderLen())
}

// FiveTuple returns the flow identifier of an IPv4 packet. Ports come from
// TCP if present, else UDP, else zero.
func (s *HeaderStack) FiveTuple() FiveTuple {
	var t FiveTuple
	if s.IPv4 == nil {
		return t
	}
	t.SrcAddr = AddrUint32(s.IPv4.SrcAddr)
	t.DstAddr = AddrUint32(s.IPv4.DstAddr)
	t.Protocol = s.IPv4.Protocol
	switch {
	case s.TCP != nil:
		t.SrcPort, t.DstPort = s.TCP.SrcPort, s.TCP.DstPort
	case s.UDP != nil:
		t.SrcPort, t.DstPort = s.UDP.SrcPort, s.UDP.DstPort
	}
	return t
}

// SetNextHop applies the set_nhop rewrite: the old destination MAC becomes
// the source MAC and dstMAC is installed as the new destination.
func (s *HeaderStack) SetNextHop(dstMAC [6]byte) {
	s.Ethernet.SrcMAC = s.Ethernet.DstMAC
	s.Ethernet.DstMAC = dstMAC
}

// DecrementTTL decrements the IPv4 TTL. It is a no-op without IPv4 or at TTL 0.
func (s *HeaderStack) DecrementTTL() {
	if s.IPv4 != nil && s.IPv4.TTL > 0 {
		s.IPv4.TTL--
	}
}

// FiveTuple is (source address, destination address, protocol, source port,
// destination port).
type FiveTuple struct {
	SrcAddr  uint32
	DstAddr  uint32
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
}

// Bytes returns the 13-byte big-endian encoding hashed by ECMP.
func (t FiveTuple) Bytes() [13]byte {
	var b [13]byte
	binary.BigEndian.PutUint32(b[0:4], t.SrcAddr)
	binary.BigEndian.PutUint32(b[4:8], t.DstAddr)
	b[8] = t.Protocol
	binary.BigEndian.PutUint16(b[9:11], t.SrcPort)
	binary.BigEndian.PutUint16(b[11:13], t.DstPort)
	return b
}

// Metadata is per-packet scratch state. It is created for each packet and
// discarded when the packet leaves the pipeline.
type Metadata struct {
	IngressPort Port
	EgressPort  Port

	EcmpHash    uint16
	EcmpGroupID uint16
	NumNhops    uint16

	IsProbe         bool
	PathUtil        uint16
	BestPort        Port
	RegisterUpdated bool

	L4Len uint16

	Drop       bool
	DropReason string
}

// MarkToDrop flags the packet for drop with the given reason. The first
// reason recorded wins.
func (m *Metadata) MarkToDrop(reason string) {
	if m.Drop {
		return
	}
	m.Drop = true
	m.DropReason = reason
}

// AddrUint32 returns an IPv4 address as a big-endian integer, 0 for anything else.
func AddrUint32(a netip.Addr) uint32 {
	if !a.Is4() {
		return 0
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

// AddrFromUint32 is the inverse of AddrUint32.
func AddrFromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
