package pipeline

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/core/checksum"
	"firestige.xyz/mpswitch/internal/core/codec"
	"firestige.xyz/mpswitch/internal/ecmp"
	"firestige.xyz/mpswitch/internal/hula"
	"firestige.xyz/mpswitch/internal/register"
	"firestige.xyz/mpswitch/internal/table"
)

var (
	hostMAC   = [6]byte{0, 0, 0, 0, 1, 1}
	switchMAC = [6]byte{0, 0, 0, 0, 0, 0xAA}
)

func tcpFrame(t *testing.T, dst string, sport uint16, ttl uint8, payload []byte) []byte {
	t.Helper()
	stack := core.HeaderStack{
		Ethernet: core.EthernetHeader{DstMAC: switchMAC, SrcMAC: hostMAC, EtherType: core.EtherTypeIPv4},
		IPv4: &core.IPv4Header{
			Version: 4, IHL: 5, TTL: ttl, Protocol: core.ProtoTCP, ID: 7,
			TotalLen: uint16(core.IPv4Len + core.TCPLen + len(payload)),
			SrcAddr:  netip.MustParseAddr("10.0.1.1"),
			DstAddr:  netip.MustParseAddr(dst),
		},
		TCP: &core.TCPHeader{SrcPort: sport, DstPort: 80, SeqNo: 1, DataOffset: 5, Ctrl: 0x18, Window: 1024},
	}
	return append(codec.Encode(&stack), payload...)
}

func probeFrame(dstTor uint32, util uint16) []byte {
	stack := core.HeaderStack{
		Ethernet: core.EthernetHeader{DstMAC: switchMAC, SrcMAC: hostMAC, EtherType: core.EtherTypeHULA},
		HULA:     &core.HULAHeader{Type: core.HULAProbeRequest, PathUtil: util, DstTor: dstTor},
	}
	return codec.Encode(&stack)
}

func ecmpDriver(t *testing.T, nhops uint16) *Driver {
	t.Helper()
	tables := table.NewSet()
	r, err := table.PrefixRule(netip.MustParsePrefix("10.0.2.0/24"), table.ActionSetEcmpGroup,
		table.Params{GroupID: 1, NumNhops: nhops})
	require.NoError(t, err)
	require.NoError(t, tables.ECMPGroup.Install(r))
	for i := uint16(0); i < nhops; i++ {
		require.NoError(t, tables.ECMPNhop.Install(table.Rule{
			Key:    table.NhopKey(1, i),
			Action: table.ActionSetNhop,
			Params: table.Params{DstMAC: [6]byte{0, 0, 0, 0, 2, byte(i + 1)}, Port: i + 1},
		}))
	}
	d, err := NewDriver(DriverConfig{Mode: config.ModeECMP, Tables: tables, Hash: ecmp.CRC16{}})
	require.NoError(t, err)
	return d
}

func hulaDriver(t *testing.T) (*Driver, *register.Store) {
	t.Helper()
	tables := table.NewSet()
	require.NoError(t, tables.ProbeFwd.Install(table.Rule{
		Key: 7, Action: table.ActionSetNhop,
		Params: table.Params{DstMAC: [6]byte{0, 0, 0, 0, 7, 7}, Port: 5},
	}))
	r, err := table.PrefixRule(netip.MustParsePrefix("10.0.0.0/24"), table.ActionSetNhop,
		table.Params{DstMAC: [6]byte{0, 0, 0, 0, 9, 9}, Port: 1})
	require.NoError(t, err)
	require.NoError(t, tables.Flowlet.Install(r))

	regs, err := register.New(register.DefaultSize)
	require.NoError(t, err)
	d, err := NewDriver(DriverConfig{
		Mode: config.ModeHULA, Tables: tables, Registers: regs, HopIncrement: hula.DefaultHopIncrement,
	})
	require.NoError(t, err)
	return d, regs
}

func decode(t *testing.T, data []byte) (core.HeaderStack, []byte) {
	t.Helper()
	stack, rest, err := codec.Decode(data)
	require.NoError(t, err)
	return stack, rest
}

func TestNewDriverErrors(t *testing.T) {
	_, err := NewDriver(DriverConfig{Mode: "bogus", Tables: table.NewSet()})
	assert.ErrorIs(t, err, core.ErrUnknownMode)

	_, err = NewDriver(DriverConfig{Mode: config.ModeHULA, Tables: table.NewSet()})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = NewDriver(DriverConfig{Mode: config.ModeECMP})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestECMPForwardRewritesAndChecksums(t *testing.T) {
	d := ecmpDriver(t, 4)
	payload := []byte("GET / HTTP/1.0\r\n")
	raw := tcpFrame(t, "10.0.2.9", 40000, 64, payload)
	orig := append([]byte(nil), raw...)

	v := d.Process(raw, 3)
	require.True(t, v.Emit, v.Reason)
	assert.Equal(t, PathECMP, v.Path)
	assert.Equal(t, orig, raw, "input frame must not be modified")

	stack, rest := decode(t, v.Data)
	assert.Equal(t, payload, rest)
	assert.Equal(t, uint8(63), stack.IPv4.TTL)
	assert.Equal(t, switchMAC, stack.Ethernet.SrcMAC)
	assert.Equal(t, [6]byte{0, 0, 0, 0, 2, byte(v.Port)}, stack.Ethernet.DstMAC)
	assert.True(t, checksum.VerifyIPv4(stack.IPv4))
	assert.True(t, checksum.VerifyTCP(stack.IPv4, stack.TCP, rest))

	h := ecmp.CRC16{}.Hash16(stack.FiveTuple()) % 4
	assert.Equal(t, h, v.Meta.EcmpHash)
	assert.Equal(t, core.Port(h+1), v.Port)
}

func TestECMPDeterministic(t *testing.T) {
	d := ecmpDriver(t, 4)
	raw := tcpFrame(t, "10.0.2.9", 40001, 64, nil)
	first := d.Process(raw, 1)
	for range 10 {
		v := d.Process(raw, 1)
		assert.Equal(t, first.Port, v.Port)
		assert.Equal(t, first.Data, v.Data)
	}
}

func TestTTLBoundary(t *testing.T) {
	d := ecmpDriver(t, 2)

	v := d.Process(tcpFrame(t, "10.0.2.9", 1, 0, nil), 1)
	assert.False(t, v.Emit)
	assert.Equal(t, DropTTLExpired, v.Reason)

	v = d.Process(tcpFrame(t, "10.0.2.9", 1, 1, nil), 1)
	require.True(t, v.Emit)
	stack, _ := decode(t, v.Data)
	assert.Equal(t, uint8(0), stack.IPv4.TTL)
}

func TestTTLZeroDroppedInHULAMode(t *testing.T) {
	d, _ := hulaDriver(t)
	v := d.Process(tcpFrame(t, "10.0.0.7", 1, 0, nil), 1)
	assert.False(t, v.Emit)
	assert.Equal(t, DropTTLExpired, v.Reason)
}

func TestDropReasons(t *testing.T) {
	d := ecmpDriver(t, 2)

	v := d.Process([]byte{1, 2, 3}, 1)
	assert.False(t, v.Emit)
	assert.Equal(t, DropParse, v.Reason)

	arp := make([]byte, 42)
	arp[12], arp[13] = 0x08, 0x06
	v = d.Process(arp, 1)
	assert.Equal(t, DropNoIPv4, v.Reason)

	v = d.Process(tcpFrame(t, "192.168.0.1", 1, 64, nil), 1)
	assert.Equal(t, ecmp.DropGroupMiss, v.Reason)

	// Probes are not part of the ECMP program.
	v = d.Process(probeFrame(7, 10), 1)
	assert.Equal(t, DropNoIPv4, v.Reason)
}

func TestECMPZeroNextHops(t *testing.T) {
	d := ecmpDriver(t, 0)
	v := d.Process(tcpFrame(t, "10.0.2.9", 1, 64, nil), 1)
	assert.False(t, v.Emit)
	assert.Equal(t, ecmp.DropNoNhops, v.Reason)
}

func TestHULAScenario(t *testing.T) {
	d, regs := hulaDriver(t)

	// No probe yet: the flowlet table decides.
	v := d.Process(tcpFrame(t, "10.0.0.7", 1, 64, nil), 2)
	require.True(t, v.Emit)
	assert.Equal(t, "fallback", v.Path)
	assert.Equal(t, core.Port(1), v.Port)

	for _, p := range []struct {
		util    uint16
		ingress core.Port
	}{{50, 2}, {30, 3}, {40, 4}} {
		v = d.Process(probeFrame(7, p.util), p.ingress)
		require.True(t, v.Emit, v.Reason)
		assert.Equal(t, "probe", v.Path)
		assert.Equal(t, core.Port(5), v.Port)

		stack, _ := decode(t, v.Data)
		assert.Equal(t, uint8(1), stack.HULA.HopCount)
		assert.Equal(t, p.util+1, stack.HULA.PathUtil)
	}

	util, port := regs.Read(7)
	assert.Equal(t, uint16(30), util)
	assert.Equal(t, core.Port(3), port)

	v = d.Process(tcpFrame(t, "10.0.0.7", 1, 64, []byte("x")), 2)
	require.True(t, v.Emit)
	assert.Equal(t, "adaptive", v.Path)
	assert.Equal(t, core.Port(3), v.Port)

	stack, rest := decode(t, v.Data)
	assert.Equal(t, uint8(63), stack.IPv4.TTL)
	assert.Equal(t, switchMAC, stack.Ethernet.DstMAC)
	assert.True(t, checksum.VerifyIPv4(stack.IPv4))
	assert.True(t, checksum.VerifyTCP(stack.IPv4, stack.TCP, rest))
}

func TestHULAProbeMissDropped(t *testing.T) {
	d, regs := hulaDriver(t)
	v := d.Process(probeFrame(9, 20), 6)
	assert.False(t, v.Emit)
	assert.Equal(t, hula.DropProbeMiss, v.Reason)
	assert.True(t, v.Meta.RegisterUpdated)

	_, port := regs.Read(9)
	assert.Equal(t, core.Port(6), port)
}

func TestIngressPortMasked(t *testing.T) {
	d, regs := hulaDriver(t)
	d.Process(probeFrame(7, 10), 0x203)
	_, port := regs.Read(7)
	assert.Equal(t, core.Port(3), port)
}

func optionsFrame(t *testing.T, dst string, payload []byte) []byte {
	t.Helper()
	opts := []byte{0x94, 0x04, 0x00, 0x00}
	stack := core.HeaderStack{
		Ethernet: core.EthernetHeader{DstMAC: switchMAC, SrcMAC: hostMAC, EtherType: core.EtherTypeIPv4},
		IPv4: &core.IPv4Header{
			Version: 4, IHL: 6, TTL: 64, Protocol: core.ProtoTCP,
			TotalLen: uint16(core.IPv4Len + len(opts) + core.TCPLen + len(payload)),
			SrcAddr:  netip.MustParseAddr("10.0.1.1"),
			DstAddr:  netip.MustParseAddr(dst),
			Options:  opts,
		},
		TCP: &core.TCPHeader{SrcPort: 40000, DstPort: 443, SeqNo: 1, DataOffset: 5, Ctrl: 0x10, Window: 1024},
	}
	return append(codec.Encode(&stack), payload...)
}

func TestForwardIPv4WithOptions(t *testing.T) {
	payload := []byte("payload behind ip options")

	hd, _ := hulaDriver(t)
	v := hd.Process(optionsFrame(t, "10.0.0.7", payload), 2)
	require.True(t, v.Emit, v.Reason)
	assert.Equal(t, "fallback", v.Path)

	stack, rest := decode(t, v.Data)
	require.NotNil(t, stack.TCP)
	assert.Equal(t, []byte{0x94, 0x04, 0x00, 0x00}, stack.IPv4.Options)
	assert.Equal(t, uint16(40000), stack.TCP.SrcPort)
	assert.Equal(t, uint16(443), stack.TCP.DstPort)
	assert.Equal(t, uint8(63), stack.IPv4.TTL)
	assert.Equal(t, payload, rest)
	assert.True(t, checksum.VerifyIPv4(stack.IPv4))
	assert.True(t, checksum.VerifyTCP(stack.IPv4, stack.TCP, rest))

	ed := ecmpDriver(t, 4)
	v = ed.Process(optionsFrame(t, "10.0.2.9", payload), 1)
	require.True(t, v.Emit, v.Reason)
	tuple := core.FiveTuple{
		SrcAddr: 0x0A000101, DstAddr: 0x0A000209,
		Protocol: core.ProtoTCP, SrcPort: 40000, DstPort: 443,
	}
	assert.Equal(t, ecmp.CRC16{}.Hash16(tuple)%4, v.Meta.EcmpHash)

	stack, rest = decode(t, v.Data)
	assert.True(t, checksum.VerifyIPv4(stack.IPv4))
	assert.True(t, checksum.VerifyTCP(stack.IPv4, stack.TCP, rest))
}
