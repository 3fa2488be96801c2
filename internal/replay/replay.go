// Package replay runs captured frames through a switch and records what it
// emits.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/pipeline"
)

// DefaultSnaplen is the snap length written to output captures.
const DefaultSnaplen = 65536

var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// Processor forwards one frame. *pipeline.Switch implements it.
type Processor interface {
	Process(frame []byte, ingress core.Port) pipeline.Verdict
}

// Options controls a replay.
type Options struct {
	IngressPort core.Port // Port every frame arrives on
	Snaplen     uint32    // Output capture snap length
}

// Result summarises a replay.
type Result struct {
	Read    int               `json:"read"`
	Emitted int               `json:"emitted"`
	Dropped int               `json:"dropped"`
	Drops   map[string]int    `json:"drops"`
	Paths   map[string]int    `json:"paths"`
	Egress  map[core.Port]int `json:"egress"`
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// newReader opens a pcap or pcapng stream.
func newReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if bytes.Equal(magic, pcapngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Run feeds every frame of the capture in r to proc on opts.IngressPort.
// Emitted frames are written to w as an Ethernet pcap with the egress port
// as interface index; w may be nil.
func Run(ctx context.Context, r io.Reader, w io.Writer, proc Processor, opts Options) (*Result, error) {
	if opts.IngressPort == 0 || opts.IngressPort > core.PortMask {
		return nil, fmt.Errorf("%w: ingress port %d", core.ErrUnknownPort, opts.IngressPort)
	}
	if opts.Snaplen == 0 {
		opts.Snaplen = DefaultSnaplen
	}

	in, err := newReader(r)
	if err != nil {
		return nil, err
	}
	if lt := in.LinkType(); lt != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("unsupported link type %s", lt)
	}

	var out *pcapgo.Writer
	if w != nil {
		out = pcapgo.NewWriter(w)
		if err := out.WriteFileHeader(opts.Snaplen, layers.LinkTypeEthernet); err != nil {
			return nil, fmt.Errorf("failed to write capture header: %w", err)
		}
	}

	res := &Result{
		Drops:  make(map[string]int),
		Paths:  make(map[string]int),
		Egress: make(map[core.Port]int),
	}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		data, ci, err := in.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("failed to read frame %d: %w", res.Read+1, err)
		}
		res.Read++

		v := proc.Process(data, opts.IngressPort)
		if v.Path != "" {
			res.Paths[v.Path]++
		}
		if !v.Emit {
			res.Dropped++
			res.Drops[v.Reason]++
			continue
		}
		res.Emitted++
		res.Egress[v.Port]++

		if out == nil {
			continue
		}
		oc := gopacket.CaptureInfo{
			Timestamp:      ci.Timestamp,
			CaptureLength:  len(v.Data),
			Length:         len(v.Data),
			InterfaceIndex: int(v.Port),
		}
		if err := out.WritePacket(oc, v.Data); err != nil {
			return res, fmt.Errorf("failed to write frame %d: %w", res.Read, err)
		}
	}

	slog.Info("replay finished",
		"read", res.Read,
		"emitted", res.Emitted,
		"dropped", res.Dropped)
	return res, nil
}

// RunFile replays the capture at inPath, writing emitted frames to outPath
// when it is not empty.
func RunFile(ctx context.Context, inPath, outPath string, proc Processor, opts Options) (*Result, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", inPath, err)
	}
	defer in.Close()

	if outPath == "" {
		return Run(ctx, in, nil, proc, opts)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture %s: %w", outPath, err)
	}
	bw := bufio.NewWriter(out)
	res, err := Run(ctx, in, bw, proc, opts)
	if ferr := bw.Flush(); err == nil && ferr != nil {
		err = ferr
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return res, err
}

// WriteFrames writes frames as an Ethernet pcap stamped with the current time.
func WriteFrames(w io.Writer, snaplen uint32, frames ...[]byte) error {
	if snaplen == 0 {
		snaplen = DefaultSnaplen
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snaplen, layers.LinkTypeEthernet); err != nil {
		return err
	}
	for _, f := range frames {
		ci := gopacket.CaptureInfo{CaptureLength: len(f), Length: len(f)}
		if err := pw.WritePacket(ci, f); err != nil {
			return err
		}
	}
	return nil
}
