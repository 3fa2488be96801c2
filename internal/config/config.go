// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/mpswitch/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `mpswitch:` root key in YAML.
type GlobalConfig struct {
	Switch         SwitchConfig         `mapstructure:"switch"`
	Topology       TopologyConfig       `mapstructure:"topology"`
	Dataplane      DataplaneConfig      `mapstructure:"dataplane"`
	Probe          ProbeConfig          `mapstructure:"probe"`
	Replay         ReplayConfig         `mapstructure:"replay"`
	CommandChannel CommandChannelConfig `mapstructure:"command_channel"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Log            LogConfig            `mapstructure:"log"`
}

// ─── Switch ───

// SwitchConfig describes one switch instance.
type SwitchConfig struct {
	ID           string   `mapstructure:"id"`            // Matches switch_id in the topology file
	Mode         string   `mapstructure:"mode"`          // ecmp | hula
	Ports        []uint16 `mapstructure:"ports"`         // Ingress ports, one worker each
	QueueSize    int      `mapstructure:"queue_size"`    // Per-port ingress queue capacity
	Hash         string   `mapstructure:"hash"`          // crc16 | fnv1a
	HopIncrement uint16   `mapstructure:"hop_increment"` // Probe utilization added per hop
	RegisterSize int      `mapstructure:"register_size"` // Entries per register array, power of two
}

// Forwarding modes.
const (
	ModeECMP = "ecmp"
	ModeHULA = "hula"
)

// ─── Topology ───

// TopologyConfig points at the rules file populating the tables.
type TopologyConfig struct {
	File string `mapstructure:"file"`
}

// ─── Dataplane ───

// DataplaneConfig binds switch ports to network interfaces through
// AF_PACKET. Ports without a binding only see frames submitted in-process.
type DataplaneConfig struct {
	Bindings     []BindingConfig `mapstructure:"bindings"`
	SnapLen      int             `mapstructure:"snap_len"`
	BufferSizeMB int             `mapstructure:"buffer_size_mb"` // Ring buffer per binding
	TimeoutMs    int             `mapstructure:"timeout_ms"`     // Poll timeout
}

// BindingConfig attaches one switch port to one interface.
type BindingConfig struct {
	Port   uint16 `mapstructure:"port"`
	Device string `mapstructure:"device"`
}

// ─── Probe injection ───

// ProbeConfig controls the periodic probe injector.
type ProbeConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Interval    string `mapstructure:"interval"`     // e.g. "100ms"
	IngressPort uint16 `mapstructure:"ingress_port"` // Port probes are submitted on
}

// IntervalDuration parses Interval.
func (p ProbeConfig) IntervalDuration() (time.Duration, error) {
	return time.ParseDuration(p.Interval)
}

// ─── Replay ───

// ReplayConfig controls pcap replay.
type ReplayConfig struct {
	IngressPort uint16 `mapstructure:"ingress_port"`
	Snaplen     uint32 `mapstructure:"snaplen"`
}

// ─── Command channel ───

// CommandChannelConfig configures the remote command channel.
type CommandChannelConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	Type       string             `mapstructure:"type"` // "kafka"
	Kafka      CommandKafkaConfig `mapstructure:"kafka"`
	CommandTTL string             `mapstructure:"command_ttl"` // Default "5m"
}

// CommandKafkaConfig contains Kafka-specific command channel settings.
type CommandKafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	ResponseTopic   string   `mapstructure:"response_topic"` // Empty disables responses
	GroupID         string   `mapstructure:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset"` // earliest | latest
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Listen          string `mapstructure:"listen"`
	Path            string `mapstructure:"path"`
	CollectInterval string `mapstructure:"collect_interval"` // Register gauge refresh, e.g. "5s"
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `mpswitch: ...`.
type configRoot struct {
	MPSwitch GlobalConfig `mapstructure:"mpswitch"`
}

// Load loads configuration from file. An empty path loads defaults only.
// Env vars override file values with the MPSWITCH_ prefix
// (e.g., MPSWITCH_SWITCH_MODE=hula).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.MPSwitch

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "mpswitch." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Switch defaults
	v.SetDefault("mpswitch.switch.id", "s1")
	v.SetDefault("mpswitch.switch.mode", ModeHULA)
	v.SetDefault("mpswitch.switch.ports", []uint16{1, 2, 3, 4})
	v.SetDefault("mpswitch.switch.queue_size", 4096)
	v.SetDefault("mpswitch.switch.hash", "crc16")
	v.SetDefault("mpswitch.switch.hop_increment", 1)
	v.SetDefault("mpswitch.switch.register_size", 8192)

	// Probe defaults
	v.SetDefault("mpswitch.probe.enabled", false)
	v.SetDefault("mpswitch.probe.interval", "100ms")
	v.SetDefault("mpswitch.probe.ingress_port", 1)

	// Dataplane defaults
	v.SetDefault("mpswitch.dataplane.snap_len", 65535)
	v.SetDefault("mpswitch.dataplane.buffer_size_mb", 8)
	v.SetDefault("mpswitch.dataplane.timeout_ms", 100)

	// Command channel defaults
	v.SetDefault("mpswitch.command_channel.enabled", false)
	v.SetDefault("mpswitch.command_channel.type", "kafka")
	v.SetDefault("mpswitch.command_channel.command_ttl", "5m")
	v.SetDefault("mpswitch.command_channel.kafka.auto_offset_reset", "latest")

	// Replay defaults
	v.SetDefault("mpswitch.replay.ingress_port", 1)
	v.SetDefault("mpswitch.replay.snaplen", 65536)

	// Log defaults
	v.SetDefault("mpswitch.log.level", "info")
	v.SetDefault("mpswitch.log.format", "text")
	v.SetDefault("mpswitch.log.outputs.file.enabled", false)
	v.SetDefault("mpswitch.log.outputs.file.path", "/var/log/mpswitch/mpswitch.log")
	v.SetDefault("mpswitch.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("mpswitch.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("mpswitch.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("mpswitch.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("mpswitch.metrics.enabled", true)
	v.SetDefault("mpswitch.metrics.listen", ":9091")
	v.SetDefault("mpswitch.metrics.path", "/metrics")
	v.SetDefault("mpswitch.metrics.collect_interval", "5s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Switch validation ──
	sw := &cfg.Switch
	sw.Mode = strings.ToLower(sw.Mode)
	if sw.Mode != ModeECMP && sw.Mode != ModeHULA {
		return fmt.Errorf("%w: %q (must be ecmp/hula)", core.ErrUnknownMode, sw.Mode)
	}
	if len(sw.Ports) == 0 {
		return fmt.Errorf("%w: switch.ports must list at least one port", core.ErrConfigInvalid)
	}
	seen := make(map[uint16]bool, len(sw.Ports))
	for _, p := range sw.Ports {
		if p == 0 || p > uint16(core.PortMask) {
			return fmt.Errorf("%w: port %d outside 1..%d", core.ErrConfigInvalid, p, core.PortMask)
		}
		if seen[p] {
			return fmt.Errorf("%w: duplicate port %d", core.ErrConfigInvalid, p)
		}
		seen[p] = true
	}
	if sw.QueueSize <= 0 {
		return fmt.Errorf("%w: switch.queue_size must be positive", core.ErrConfigInvalid)
	}
	if sw.RegisterSize <= 0 || sw.RegisterSize&(sw.RegisterSize-1) != 0 {
		return fmt.Errorf("%w: %d", core.ErrRegisterSize, sw.RegisterSize)
	}

	// ── Probe validation ──
	if cfg.Probe.Enabled {
		if sw.Mode != ModeHULA {
			return fmt.Errorf("%w: probe injection requires switch.mode=hula", core.ErrConfigInvalid)
		}
		d, err := cfg.Probe.IntervalDuration()
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: probe.interval %q", core.ErrConfigInvalid, cfg.Probe.Interval)
		}
		if !seen[cfg.Probe.IngressPort] {
			return fmt.Errorf("%w: probe.ingress_port %d is not a switch port", core.ErrConfigInvalid, cfg.Probe.IngressPort)
		}
	}

	// ── Dataplane validation ──
	bound := make(map[uint16]bool, len(cfg.Dataplane.Bindings))
	for _, b := range cfg.Dataplane.Bindings {
		if !seen[b.Port] {
			return fmt.Errorf("%w: dataplane binding for port %d which is not a switch port", core.ErrConfigInvalid, b.Port)
		}
		if bound[b.Port] {
			return fmt.Errorf("%w: port %d bound twice", core.ErrConfigInvalid, b.Port)
		}
		if b.Device == "" {
			return fmt.Errorf("%w: dataplane binding for port %d has no device", core.ErrConfigInvalid, b.Port)
		}
		bound[b.Port] = true
	}
	if len(cfg.Dataplane.Bindings) > 0 && (cfg.Dataplane.SnapLen <= 0 || cfg.Dataplane.BufferSizeMB <= 0) {
		return fmt.Errorf("%w: dataplane.snap_len and dataplane.buffer_size_mb must be positive", core.ErrConfigInvalid)
	}

	// ── Command channel validation ──
	if cc := &cfg.CommandChannel; cc.Enabled {
		if cc.Type != "kafka" {
			return fmt.Errorf("%w: unsupported command_channel.type: %s (only 'kafka' supported)", core.ErrConfigInvalid, cc.Type)
		}
		if len(cc.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: command_channel.kafka.brokers is required when command_channel.enabled=true", core.ErrConfigInvalid)
		}
		if cc.Kafka.Topic == "" {
			return fmt.Errorf("%w: command_channel.kafka.topic is required when command_channel.enabled=true", core.ErrConfigInvalid)
		}
		if cc.Kafka.GroupID == "" {
			cc.Kafka.GroupID = "mpswitch-" + sw.ID
		}
		if _, err := time.ParseDuration(cc.CommandTTL); err != nil {
			return fmt.Errorf("%w: command_channel.command_ttl %q", core.ErrConfigInvalid, cc.CommandTTL)
		}
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled {
		if _, err := time.ParseDuration(cfg.Metrics.CollectInterval); err != nil {
			return fmt.Errorf("%w: metrics.collect_interval %q", core.ErrConfigInvalid, cfg.Metrics.CollectInterval)
		}
	}

	return nil
}
