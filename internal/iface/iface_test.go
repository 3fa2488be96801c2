package iface

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/pipeline"
)

type fakeHandle struct {
	rx chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{rx: make(chan []byte, 16)}
}

func (h *fakeHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case data := <-h.rx:
		return data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)}, nil
	case <-time.After(10 * time.Millisecond):
		return nil, gopacket.CaptureInfo{}, errPollTimeout
	}
}

func (h *fakeHandle) WritePacketData(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, data)
	return nil
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

type submitted struct {
	port  core.Port
	frame []byte
}

type fakeSubmitter struct {
	mu     sync.Mutex
	frames []submitted
	got    chan struct{}
}

func (s *fakeSubmitter) Submit(port core.Port, frame []byte) error {
	s.mu.Lock()
	s.frames = append(s.frames, submitted{port, frame})
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func TestBindingsEmit(t *testing.T) {
	h1, h2 := newFakeHandle(), newFakeHandle()
	b := newBindings("s1",
		map[core.Port]portHandle{1: h1, 2: h2},
		map[core.Port]string{1: "veth1", 2: "veth2"}, nil)
	assert.Equal(t, 2, b.Len())

	b.Emit(1, pipeline.Verdict{Emit: true, Port: 2, Data: []byte{0xAB}})
	b.Emit(1, pipeline.Verdict{Emit: false, Port: 2, Reason: pipeline.DropTTLExpired})
	b.Emit(1, pipeline.Verdict{Emit: true, Port: 9, Data: []byte{0xCD}})

	assert.Equal(t, [][]byte{{0xAB}}, h2.written)
	assert.Empty(t, h1.written)

	b.Close()
	assert.True(t, h1.closed)
	assert.True(t, h2.closed)
}

func TestBindingsRunSubmitsFrames(t *testing.T) {
	h1, h2 := newFakeHandle(), newFakeHandle()
	b := newBindings("s1",
		map[core.Port]portHandle{1: h1, 2: h2},
		map[core.Port]string{1: "veth1", 2: "veth2"}, nil)
	sub := &fakeSubmitter{got: make(chan struct{}, 4)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, sub) }()

	h1.rx <- []byte{1}
	h2.rx <- []byte{2}
	for range 2 {
		select {
		case <-sub.got:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for submit")
		}
	}

	cancel()
	require.NoError(t, <-done)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.ElementsMatch(t, []submitted{{1, []byte{1}}, {2, []byte{2}}}, sub.frames)
}
