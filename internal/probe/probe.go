// Package probe builds HULA utilization probes and injects them into a
// switch at a fixed interval.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/core"
	logpkg "firestige.xyz/mpswitch/internal/log"
	"firestige.xyz/mpswitch/internal/metrics"
)

// DefaultInterval is the probe period used by the HULA controller.
const DefaultInterval = 100 * time.Millisecond

// Probe is one probe emitted every interval.
type Probe struct {
	DstTor uint32
	SrcMAC [6]byte
	DstMAC [6]byte
}

// FromTopology converts the probe_config section of a topology file.
func FromTopology(specs []config.ProbeSpec) ([]Probe, error) {
	probes := make([]Probe, 0, len(specs))
	for _, s := range specs {
		src, err := config.ParseMAC(s.SrcMAC)
		if err != nil {
			return nil, fmt.Errorf("probe tor %d: %w", s.DstTorID, err)
		}
		dst, err := config.ParseMAC(s.DstMAC)
		if err != nil {
			return nil, fmt.Errorf("probe tor %d: %w", s.DstTorID, err)
		}
		probes = append(probes, Probe{DstTor: s.DstTorID, SrcMAC: src, DstMAC: dst})
	}
	return probes, nil
}

// Build serializes p as a fresh probe request: hop count and path
// utilization zero, timestamp in unix seconds. The frame is padded to the
// Ethernet minimum.
func Build(p Probe, now time.Time) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(p.SrcMAC[:]),
		DstMAC:       net.HardwareAddr(p.DstMAC[:]),
		EthernetType: EthernetTypeHULA,
	}
	hula := &HULA{HULAHeader: core.HULAHeader{
		Type:      core.HULAProbeRequest,
		Timestamp: uint32(now.Unix()),
		DstTor:    p.DstTor,
	}}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, hula); err != nil {
		return nil, fmt.Errorf("serialize probe for tor %d: %w", p.DstTor, err)
	}
	return buf.Bytes(), nil
}

// Submitter accepts ingress frames. *pipeline.Switch implements it.
type Submitter interface {
	Submit(port core.Port, frame []byte) error
}

// Injector submits every probe on one ingress port each interval.
type Injector struct {
	probes   []Probe
	port     core.Port
	interval time.Duration
	sub      Submitter
	now      func() time.Time
	injected prometheus.Counter
	logger   *slog.Logger
}

// NewInjector creates an injector for the switch called switchID.
func NewInjector(switchID string, probes []Probe, port core.Port, interval time.Duration, sub Submitter) *Injector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Injector{
		probes:   probes,
		port:     port,
		interval: interval,
		sub:      sub,
		now:      time.Now,
		injected: metrics.ProbesInjectedTotal.WithLabelValues(switchID),
		logger:   logpkg.Current().With("switch_id", switchID, "component", "probe_injector"),
	}
}

// InjectOnce submits one round of probes and returns how many were
// accepted. Probes rejected by the switch are skipped.
func (i *Injector) InjectOnce() (int, error) {
	now := i.now()
	var sent int
	for _, p := range i.probes {
		frame, err := Build(p, now)
		if err != nil {
			return sent, err
		}
		if err := i.sub.Submit(i.port, frame); err != nil {
			i.logger.Debug("probe rejected", "dst_tor", p.DstTor, "error", err)
			continue
		}
		sent++
		i.injected.Inc()
	}
	return sent, nil
}

// Run injects a round of probes every interval until ctx is cancelled.
func (i *Injector) Run(ctx context.Context) error {
	i.logger.Info("probe injection started",
		"probes", len(i.probes),
		"ingress_port", i.port,
		"interval", i.interval)

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.logger.Info("probe injection stopped")
			return nil
		case <-ticker.C:
			if _, err := i.InjectOnce(); err != nil {
				return err
			}
		}
	}
}
