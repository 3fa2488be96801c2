//go:build linux

package iface

import (
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
)

// tpacket adapts an AF_PACKET ring to portHandle.
type tpacket struct {
	*afpacket.TPacket
}

func (t tpacket) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := t.TPacket.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		err = errPollTimeout
	}
	return data, ci, err
}

func openHandle(device string, r ring, timeoutMs, snapLen int) (portHandle, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(r.frameSize),
		afpacket.OptBlockSize(r.blockSize),
		afpacket.OptNumBlocks(r.numBlocks),
		afpacket.OptPollTimeout(time.Duration(timeoutMs)*time.Millisecond),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, err
	}

	filter, err := assembleFilter(snapLen)
	if err != nil {
		tp.Close()
		return nil, err
	}
	if err := tp.SetBPF(filter); err != nil {
		tp.Close()
		return nil, err
	}
	return tpacket{tp}, nil
}
