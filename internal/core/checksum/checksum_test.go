package checksum

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/core/codec"
)

func serializeTCP(t *testing.T, ttl uint8, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{192, 168, 1, 1},
		DstIP:    net.IP{10, 0, 3, 9},
	}
	tcp := &layers.TCP{SrcPort: 5000, DstPort: 80, Seq: 42, ACK: true, PSH: true, Window: 512}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestVerifyAcceptsGopacketChecksums(t *testing.T) {
	for _, payload := range [][]byte{[]byte("even-length-data"), []byte("odd-length-data"), {}} {
		data := serializeTCP(t, 64, payload)
		stack, residual, err := codec.Decode(data)
		require.NoError(t, err)
		require.NotNil(t, stack.TCP)

		assert.True(t, VerifyIPv4(stack.IPv4))
		assert.True(t, VerifyTCP(stack.IPv4, stack.TCP, tcpPayload(stack.L4Length(), residual)))
		assert.Equal(t, stack.IPv4.Checksum, IPv4(stack.IPv4))
	}
}

func TestUpdateAfterTTLDecrement(t *testing.T) {
	data := serializeTCP(t, 2, []byte("payload after the tcp header"))
	stack, residual, err := codec.Decode(data)
	require.NoError(t, err)

	stack.DecrementTTL()
	assert.False(t, VerifyIPv4(stack.IPv4))

	meta := core.Metadata{L4Len: stack.L4Length()}
	Standard{}.Update(&stack, &meta, residual)

	assert.Equal(t, uint8(1), stack.IPv4.TTL)
	assert.True(t, VerifyIPv4(stack.IPv4))
	assert.True(t, VerifyTCP(stack.IPv4, stack.TCP, tcpPayload(meta.L4Len, residual)))

	// gopacket agrees with the rewritten frame.
	out := append(codec.Encode(&stack), residual...)
	pkt := gopacket.NewPacket(out, layers.LayerTypeEthernet, gopacket.Default)
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	assert.Equal(t, stack.IPv4.Checksum, ip.Checksum)
}

func TestUpdateIgnoresEthernetPadding(t *testing.T) {
	// Short segment: gopacket pads the frame to 60 bytes.
	data := serializeTCP(t, 64, []byte("x"))
	require.Len(t, data, 60)

	stack, residual, err := codec.Decode(data)
	require.NoError(t, err)
	require.Len(t, residual, 6)

	want := stack.TCP.Checksum
	meta := core.Metadata{L4Len: stack.L4Length()}
	Standard{}.Update(&stack, &meta, residual)
	assert.Equal(t, want, stack.TCP.Checksum)
}

func TestUpdateLeavesUDPChecksum(t *testing.T) {
	stack := core.HeaderStack{
		Ethernet: core.EthernetHeader{EtherType: core.EtherTypeIPv4},
		IPv4: &core.IPv4Header{
			Version: 4, IHL: 5, TotalLen: 28, TTL: 9, Protocol: core.ProtoUDP,
			SrcAddr: core.AddrFromUint32(0x0A000001), DstAddr: core.AddrFromUint32(0x0A000002),
		},
		UDP: &core.UDPHeader{SrcPort: 1, DstPort: 2, Length: 8, Checksum: 0xABCD},
	}
	meta := core.Metadata{L4Len: stack.L4Length()}
	Standard{}.Update(&stack, &meta, nil)

	assert.True(t, VerifyIPv4(stack.IPv4))
	assert.Equal(t, uint16(0xABCD), stack.UDP.Checksum)
}

func TestFold(t *testing.T) {
	assert.Equal(t, uint16(0x0001), fold(0x00010000))
	assert.Equal(t, uint16(0xFFFF), fold(0x0001FFFE))
	assert.Equal(t, uint16(0x1234), fold(0x1234))
}

func TestIPv4ChecksumCoversOptions(t *testing.T) {
	ip := &core.IPv4Header{
		Version: 4, IHL: 6, TTL: 9, Protocol: core.ProtoTCP, TotalLen: 44,
		SrcAddr: netip.MustParseAddr("10.0.1.1"),
		DstAddr: netip.MustParseAddr("10.0.2.2"),
		Options: []byte{0x94, 0x04, 0x00, 0x00},
	}
	ip.Checksum = IPv4(ip)
	assert.True(t, VerifyIPv4(ip))

	gp := &layers.IPv4{
		Version: 4, IHL: 6, TTL: 9, Protocol: layers.IPProtocolTCP, Length: 44,
		SrcIP:   net.IP{10, 0, 1, 1},
		DstIP:   net.IP{10, 0, 2, 2},
		Options: []layers.IPv4Option{{OptionType: 0x94, OptionLength: 4, OptionData: []byte{0, 0}}},
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gp.SerializeTo(buf, gopacket.SerializeOptions{ComputeChecksums: true}))
	assert.Equal(t, gp.Checksum, ip.Checksum)

	ip.Options[3] = 0x01
	assert.False(t, VerifyIPv4(ip))
}
