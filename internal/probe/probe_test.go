package probe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/core/codec"
	"firestige.xyz/mpswitch/internal/pipeline"
)

var testProbe = Probe{
	DstTor: 3,
	SrcMAC: [6]byte{0, 0, 0, 0, 0, 0x01},
	DstMAC: [6]byte{0, 0, 0, 0, 0, 0xAA},
}

func TestBuild(t *testing.T) {
	now := time.Unix(1700000000, 0)
	frame, err := Build(testProbe, now)
	require.NoError(t, err)
	assert.Len(t, frame, 60)

	stack, _, err := codec.Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, stack.HULA)
	assert.Equal(t, core.EtherTypeHULA, stack.Ethernet.EtherType)
	assert.Equal(t, testProbe.SrcMAC, stack.Ethernet.SrcMAC)
	assert.Equal(t, core.HULAHeader{
		Type:      core.HULAProbeRequest,
		Timestamp: 1700000000,
		DstTor:    3,
	}, *stack.HULA)
}

func TestLayerDecodesWithGopacket(t *testing.T) {
	frame, err := Build(testProbe, time.Unix(42, 0))
	require.NoError(t, err)

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	layer := pkt.Layer(LayerTypeHULA)
	require.NotNil(t, layer, "%v", pkt.ErrorLayer())

	h := layer.(*HULA)
	assert.Equal(t, uint32(3), h.DstTor)
	assert.Equal(t, uint32(42), h.Timestamp)
	assert.Len(t, h.LayerContents(), core.HULALen)
}

func TestFromTopology(t *testing.T) {
	probes, err := FromTopology([]config.ProbeSpec{
		{DstTorID: 3, SrcMAC: "00:00:00:00:00:01", DstMAC: "00:00:00:00:00:aa"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Probe{testProbe}, probes)

	_, err = FromTopology([]config.ProbeSpec{{DstTorID: 3, SrcMAC: "bogus", DstMAC: "00:00:00:00:00:aa"}})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

type captureSubmitter struct {
	mu     sync.Mutex
	frames [][]byte
	ports  []core.Port
	reject bool
}

func (s *captureSubmitter) Submit(port core.Port, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return core.ErrQueueFull
	}
	s.frames = append(s.frames, frame)
	s.ports = append(s.ports, port)
	return nil
}

func (s *captureSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestInjectOnce(t *testing.T) {
	sub := &captureSubmitter{}
	second := testProbe
	second.DstTor = 4
	inj := NewInjector("probe-test", []Probe{testProbe, second}, 2, time.Second, sub)
	inj.now = func() time.Time { return time.Unix(100, 0) }

	n, err := inj.InjectOnce()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []core.Port{2, 2}, sub.ports)

	stack, _, err := codec.Decode(sub.frames[1])
	require.NoError(t, err)
	assert.Equal(t, uint32(4), stack.HULA.DstTor)
	assert.Equal(t, uint32(100), stack.HULA.Timestamp)

	sub.reject = true
	n, err = inj.InjectOnce()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInjectorRun(t *testing.T) {
	sub := &captureSubmitter{}
	inj := NewInjector("probe-run", []Probe{testProbe}, 1, 5*time.Millisecond, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inj.Run(ctx) }()

	require.Eventually(t, func() bool { return sub.count() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestInjectedProbeUpdatesSwitch(t *testing.T) {
	sw, err := pipeline.NewBuilder().WithID("probe-e2e").WithPorts(1, 2).Build()
	require.NoError(t, err)

	frame, err := Build(testProbe, time.Now())
	require.NoError(t, err)
	v := sw.Process(frame, 2)
	assert.True(t, v.Meta.IsProbe)
	assert.True(t, v.Meta.RegisterUpdated)

	util, port := sw.Registers().Read(3)
	assert.Equal(t, uint16(0), util)
	assert.Equal(t, core.Port(2), port)
}
