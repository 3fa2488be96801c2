// Package codec implements the header codec: decoding raw frames into a
// header stack and emitting a header stack back onto the wire.
package codec

import "firestige.xyz/mpswitch/internal/core"

// Decode parses data into a header stack and returns the unparsed remainder.
//
// Ethernet is parsed unconditionally. The etherType selects IPv4, the HULA
// probe header or nothing; the IPv4 protocol selects TCP or UDP. Addresses
// always decode as IPv4 netip.Addr values. Parsing is
// strictly sequential: a truncated header stops the parser and the bytes from
// that point on are returned as residual. Only a frame too short to hold an
// Ethernet header is an error.
func Decode(data []byte) (core.HeaderStack, []byte, error) {
	var stack core.HeaderStack

	eth, rest, err := decodeEthernet(data)
	if err != nil {
		return stack, data, err
	}
	stack.Ethernet = eth

	switch eth.EtherType {
	case core.EtherTypeHULA:
		probe, next, ok := decodeHULA(rest)
		if !ok {
			return stack, rest, nil
		}
		stack.HULA = &probe
		// A probe may carry an IPv4 header, never TCP/UDP. Zero padding
		// after a bare probe fails the version check and is left as payload.
		if len(next) >= core.IPv4Len && next[0]>>4 == 4 {
			if ip, after, ok := decodeIPv4(next); ok {
				stack.IPv4 = &ip
				next = after
			}
		}
		return stack, next, nil
	case core.EtherTypeIPv4:
		ip, next, ok := decodeIPv4(rest)
		if !ok {
			return stack, rest, nil
		}
		stack.IPv4 = &ip
		rest = next
	default:
		// Unknown etherType: accept with Ethernet only.
		return stack, rest, nil
	}

	switch stack.IPv4.Protocol {
	case core.ProtoTCP:
		if tcp, next, ok := decodeTCP(rest); ok {
			stack.TCP = &tcp
			rest = next
		}
	case core.ProtoUDP:
		if udp, next, ok := decodeUDP(rest); ok {
			stack.UDP = &udp
			rest = next
		}
	}
	return stack, rest, nil
}

// EncodedLen returns the number of bytes Encode emits for stack.
func EncodedLen(stack *core.HeaderStack) int {
	n := core.EthernetLen
	if stack.HULA != nil {
		n += core.HULALen
	}
	if stack.IPv4 != nil {
		n += stack.IPv4.HeaderLen()
	}
	switch {
	case stack.TCP != nil:
		n += core.TCPLen
	case stack.UDP != nil:
		n += core.UDPLen
	}
	return n
}

// Encode emits the present headers in canonical order:
// Ethernet, [HULA], IPv4, [TCP|UDP].
func Encode(stack *core.HeaderStack) []byte {
	return Append(make([]byte, 0, EncodedLen(stack)), stack)
}

// Append appends the encoding of stack to dst and returns the extended slice.
func Append(dst []byte, stack *core.HeaderStack) []byte {
	off := len(dst)
	dst = append(dst, make([]byte, EncodedLen(stack))...)
	b := dst[off:]

	PutEthernet(b, &stack.Ethernet)
	b = b[core.EthernetLen:]
	if stack.HULA != nil {
		PutHULA(b, stack.HULA)
		b = b[core.HULALen:]
	}
	if stack.IPv4 != nil {
		PutIPv4(b, stack.IPv4)
		b = b[stack.IPv4.HeaderLen():]
	}
	switch {
	case stack.TCP != nil:
		PutTCP(b, stack.TCP)
	case stack.UDP != nil:
		PutUDP(b, stack.UDP)
	}
	return dst
}
