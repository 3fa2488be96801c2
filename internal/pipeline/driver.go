// Package pipeline implements the packet processing pipeline engine.
package pipeline

import (
	"fmt"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/core/checksum"
	"firestige.xyz/mpswitch/internal/core/codec"
	"firestige.xyz/mpswitch/internal/ecmp"
	"firestige.xyz/mpswitch/internal/hula"
	"firestige.xyz/mpswitch/internal/table"
)

// Drop reasons raised by the driver itself. Table misses use the reasons
// defined by the ecmp and hula packages.
const (
	DropParse      = "parse_error"
	DropNoIPv4     = "no_ipv4"
	DropTTLExpired = "ttl_expired"
)

// Forwarding branches reported in Verdict.Path.
const (
	PathECMP = "ecmp"
)

// Verdict is the outcome of one packet: emitted on Port with Data, or
// dropped with Reason.
type Verdict struct {
	Emit   bool
	Port   core.Port
	Data   []byte
	Reason string
	Path   string
	Meta   core.Metadata
}

// DriverConfig contains driver configuration.
type DriverConfig struct {
	Mode         string // config.ModeECMP or config.ModeHULA
	Tables       *table.Set
	Registers    hula.Registers
	Hash         ecmp.HashFn
	HopIncrement uint16
	Checksum     checksum.Engine
}

// Driver runs one packet from raw bytes to a verdict:
// parse, classify, forward, checksum, deparse.
//
// A Driver keeps no per-packet state and is safe for concurrent use. All
// shared state lives in the tables (copy-on-write) and registers (atomic).
type Driver struct {
	mode     string
	ecmp     *ecmp.Pipeline
	hula     *hula.Pipeline
	checksum checksum.Engine
}

// NewDriver creates a driver for the given mode.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Tables == nil {
		return nil, fmt.Errorf("%w: driver requires tables", core.ErrConfigInvalid)
	}
	if cfg.Checksum == nil {
		cfg.Checksum = checksum.Standard{}
	}
	d := &Driver{mode: cfg.Mode, checksum: cfg.Checksum}

	switch cfg.Mode {
	case config.ModeECMP:
		d.ecmp = ecmp.New(cfg.Tables, cfg.Hash)
	case config.ModeHULA:
		if cfg.Registers == nil {
			return nil, fmt.Errorf("%w: hula mode requires registers", core.ErrConfigInvalid)
		}
		d.hula = hula.New(cfg.Registers, cfg.Tables, cfg.HopIncrement)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownMode, cfg.Mode)
	}
	return d, nil
}

// Mode returns the forwarding mode.
func (d *Driver) Mode() string { return d.mode }

// Process runs raw through the pipeline. raw is not modified; an emitted
// frame is written to a new buffer.
func (d *Driver) Process(raw []byte, ingress core.Port) Verdict {
	meta := core.Metadata{IngressPort: ingress & core.PortMask}

	stack, payload, err := codec.Decode(raw)
	if err != nil {
		meta.MarkToDrop(DropParse)
		return dropped(meta, "")
	}
	meta.L4Len = stack.L4Length()

	path := d.forward(&stack, &meta)
	if meta.Drop {
		return dropped(meta, path)
	}

	d.checksum.Update(&stack, &meta, payload)

	out := make([]byte, 0, codec.EncodedLen(&stack)+len(payload))
	out = codec.Append(out, &stack)
	out = append(out, payload...)

	return Verdict{
		Emit: true,
		Port: meta.EgressPort,
		Data: out,
		Path: path,
		Meta: meta,
	}
}

// forward classifies the packet and applies the mode's tables. It returns
// the branch taken.
func (d *Driver) forward(stack *core.HeaderStack, meta *core.Metadata) string {
	if d.hula != nil && stack.IsProbe() {
		return d.hula.Apply(stack, meta).String()
	}

	// The ECMP program does not parse probes; they carry no routable IPv4.
	if stack.IPv4 == nil || stack.IsProbe() {
		meta.MarkToDrop(DropNoIPv4)
		return ""
	}
	if stack.IPv4.TTL == 0 {
		meta.MarkToDrop(DropTTLExpired)
		return ""
	}

	if d.ecmp != nil {
		d.ecmp.Apply(stack, meta)
		return PathECMP
	}
	return d.hula.Apply(stack, meta).String()
}

func dropped(meta core.Metadata, path string) Verdict {
	return Verdict{Reason: meta.DropReason, Path: path, Meta: meta}
}
