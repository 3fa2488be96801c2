// Package iface binds switch ports to Linux network interfaces through
// AF_PACKET sockets. Frames read from a bound interface are submitted to the
// switch on the bound port; emitted frames are written to the interface bound
// to their egress port.
package iface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/core"
	logpkg "firestige.xyz/mpswitch/internal/log"
	"firestige.xyz/mpswitch/internal/metrics"
	"firestige.xyz/mpswitch/internal/pipeline"
)

// DropEgressUnbound is the drop reason for frames forwarded to a port with
// no interface.
const DropEgressUnbound = "egress_unbound"

// errPollTimeout is returned by a handle when its poll interval passes with
// no frame.
var errPollTimeout = errors.New("iface: poll timeout")

// Submitter accepts ingress frames. *pipeline.Switch implements it.
type Submitter interface {
	Submit(port core.Port, frame []byte) error
}

// portHandle is the socket side of one binding.
type portHandle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	WritePacketData(data []byte) error
	Close()
}

type binding struct {
	port   core.Port
	device string
	handle portHandle
}

// Bindings is the set of interfaces bound to one switch.
type Bindings struct {
	switchID string
	ports    map[core.Port]*binding
	logger   *slog.Logger
}

// Open opens one AF_PACKET socket per configured binding.
func Open(switchID string, cfg config.DataplaneConfig, logger *slog.Logger) (*Bindings, error) {
	r, err := ringGeometry(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	handles := make(map[core.Port]portHandle, len(cfg.Bindings))
	devices := make(map[core.Port]string, len(cfg.Bindings))
	for _, bc := range cfg.Bindings {
		h, err := openHandle(bc.Device, r, cfg.TimeoutMs, cfg.SnapLen)
		if err != nil {
			for _, opened := range handles {
				opened.Close()
			}
			return nil, fmt.Errorf("bind port %d to %s: %w", bc.Port, bc.Device, err)
		}
		handles[core.Port(bc.Port)] = h
		devices[core.Port(bc.Port)] = bc.Device
	}
	return newBindings(switchID, handles, devices, logger), nil
}

func newBindings(switchID string, handles map[core.Port]portHandle, devices map[core.Port]string, logger *slog.Logger) *Bindings {
	if logger == nil {
		logger = logpkg.Current()
	}
	b := &Bindings{
		switchID: switchID,
		ports:    make(map[core.Port]*binding, len(handles)),
		logger:   logger,
	}
	for port, h := range handles {
		b.ports[port] = &binding{port: port, device: devices[port], handle: h}
	}
	return b
}

// Len returns the number of bound ports.
func (b *Bindings) Len() int { return len(b.ports) }

// Run reads every bound interface and submits its frames until ctx is
// cancelled or a socket fails.
func (b *Bindings) Run(ctx context.Context, sub Submitter) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, pb := range b.ports {
		g.Go(func() error {
			return b.readLoop(ctx, pb, sub)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bindings) readLoop(ctx context.Context, pb *binding, sub Submitter) error {
	b.logger.Info("port bound", "port", pb.port, "device", pb.device)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, _, err := pb.handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, errPollTimeout) {
				continue
			}
			return fmt.Errorf("read %s: %w", pb.device, err)
		}

		if err := sub.Submit(pb.port, data); err != nil {
			if errors.Is(err, core.ErrSwitchStopped) {
				return nil
			}
			// Queue overflow is counted by the switch.
			b.logger.Debug("ingress frame rejected", "port", pb.port, "error", err)
		}
	}
}

// Emit writes emitted frames to the interface bound to their egress port.
// It has the signature of pipeline.Emitter.
func (b *Bindings) Emit(ingress core.Port, v pipeline.Verdict) {
	if !v.Emit {
		return
	}
	pb, ok := b.ports[v.Port]
	if !ok {
		metrics.DropsTotal.WithLabelValues(b.switchID, DropEgressUnbound).Inc()
		b.logger.Debug("no interface for egress port", "ingress_port", ingress, "egress_port", v.Port)
		return
	}
	if err := pb.handle.WritePacketData(v.Data); err != nil {
		b.logger.Warn("failed to write frame",
			"egress_port", v.Port,
			"device", pb.device,
			"error", err)
	}
}

// Close closes every socket.
func (b *Bindings) Close() {
	for _, pb := range b.ports {
		pb.handle.Close()
	}
}
