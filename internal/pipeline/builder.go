// Package pipeline implements switch construction.
package pipeline

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/core/checksum"
	"firestige.xyz/mpswitch/internal/ecmp"
	"firestige.xyz/mpswitch/internal/hula"
	logpkg "firestige.xyz/mpswitch/internal/log"
	"firestige.xyz/mpswitch/internal/metrics"
	"firestige.xyz/mpswitch/internal/register"
	"firestige.xyz/mpswitch/internal/table"
)

// DefaultQueueSize is the per-port ingress queue capacity.
const DefaultQueueSize = 1024

// Builder provides a fluent interface for building switches.
type Builder struct {
	cfg      config.SwitchConfig
	emit     Emitter
	checksum checksum.Engine
	logger   *slog.Logger
}

// NewBuilder creates a new switch builder.
func NewBuilder() *Builder {
	return &Builder{
		cfg: config.SwitchConfig{
			ID:           "s1",
			Mode:         config.ModeHULA,
			QueueSize:    DefaultQueueSize,
			Hash:         ecmp.HashCRC16,
			HopIncrement: hula.DefaultHopIncrement,
			RegisterSize: register.DefaultSize,
		},
	}
}

// FromConfig starts a builder from a validated switch configuration.
func FromConfig(cfg config.SwitchConfig) *Builder {
	return &Builder{cfg: cfg}
}

// WithID sets the switch ID.
func (b *Builder) WithID(id string) *Builder {
	b.cfg.ID = id
	return b
}

// WithMode sets the forwarding mode.
func (b *Builder) WithMode(mode string) *Builder {
	b.cfg.Mode = mode
	return b
}

// WithPorts sets the ingress ports.
func (b *Builder) WithPorts(ports ...uint16) *Builder {
	b.cfg.Ports = ports
	return b
}

// WithQueueSize sets the per-port queue capacity.
func (b *Builder) WithQueueSize(size int) *Builder {
	b.cfg.QueueSize = size
	return b
}

// WithHash selects the ECMP hash by name.
func (b *Builder) WithHash(name string) *Builder {
	b.cfg.Hash = name
	return b
}

// WithHopIncrement sets the per-hop probe utilization increment.
func (b *Builder) WithHopIncrement(inc uint16) *Builder {
	b.cfg.HopIncrement = inc
	return b
}

// WithRegisterSize sets the register array size.
func (b *Builder) WithRegisterSize(size int) *Builder {
	b.cfg.RegisterSize = size
	return b
}

// WithEmitter sets the verdict callback used by the port workers.
func (b *Builder) WithEmitter(e Emitter) *Builder {
	b.emit = e
	return b
}

// WithChecksum replaces the checksum engine.
func (b *Builder) WithChecksum(c checksum.Engine) *Builder {
	b.checksum = c
	return b
}

// WithLogger sets the switch logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Build creates the switch with empty tables and reset registers.
func (b *Builder) Build() (*Switch, error) {
	cfg := b.cfg
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	hash, err := ecmp.NewHash(cfg.Hash)
	if err != nil {
		return nil, err
	}
	regs, err := register.New(cfg.RegisterSize)
	if err != nil {
		return nil, err
	}
	tables := table.NewSet()

	driver, err := NewDriver(DriverConfig{
		Mode:         cfg.Mode,
		Tables:       tables,
		Registers:    regs,
		Hash:         hash,
		HopIncrement: cfg.HopIncrement,
		Checksum:     b.checksum,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logpkg.ForSwitch(cfg.ID, cfg.Mode)
	}

	s := &Switch{
		id:       cfg.ID,
		tables:   tables,
		regs:     regs,
		driver:   driver,
		emit:     b.emit,
		logger:   logger,
		queues:   make(map[core.Port]chan []byte, len(cfg.Ports)),
		metrics:  NewMetrics(cfg.ID),
		received: make(map[core.Port]prometheus.Counter, len(cfg.Ports)),
		latency:  metrics.ProcessLatencySeconds.WithLabelValues(cfg.ID),
	}

	for _, p := range cfg.Ports {
		port := core.Port(p)
		if port == 0 || port > core.PortMask {
			return nil, fmt.Errorf("%w: %d", core.ErrUnknownPort, p)
		}
		if _, dup := s.queues[port]; dup {
			return nil, fmt.Errorf("%w: duplicate port %d", core.ErrConfigInvalid, p)
		}
		s.ports = append(s.ports, port)
		s.queues[port] = make(chan []byte, cfg.QueueSize)
		s.received[port] = metrics.PacketsTotal.WithLabelValues(cfg.ID, strconv.Itoa(int(p)))
	}

	return s, nil
}
