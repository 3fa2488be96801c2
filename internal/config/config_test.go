package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/mpswitch/internal/core"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeFile(t, "config.yml", `
mpswitch:
  switch:
    id: "leaf1"
    mode: "ECMP"
    ports: [1, 2, 3]
    hash: "fnv1a"
  topology:
    file: "/etc/mpswitch/topology.json"
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "leaf1", cfg.Switch.ID)
	assert.Equal(t, ModeECMP, cfg.Switch.Mode)
	assert.Equal(t, []uint16{1, 2, 3}, cfg.Switch.Ports)
	assert.Equal(t, "fnv1a", cfg.Switch.Hash)
	assert.Equal(t, "/etc/mpswitch/topology.json", cfg.Topology.File)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Listen)

	// Defaults
	assert.Equal(t, 4096, cfg.Switch.QueueSize)
	assert.Equal(t, uint16(1), cfg.Switch.HopIncrement)
	assert.Equal(t, 8192, cfg.Switch.RegisterSize)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModeHULA, cfg.Switch.Mode)
	assert.Equal(t, "100ms", cfg.Probe.Interval)
	assert.False(t, cfg.Probe.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MPSWITCH_SWITCH_MODE", "ecmp")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModeECMP, cfg.Switch.Mode)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"log level", "mpswitch:\n  log:\n    level: verbose\n", core.ErrConfigInvalid},
		{"mode", "mpswitch:\n  switch:\n    mode: ospf\n", core.ErrUnknownMode},
		{"port zero", "mpswitch:\n  switch:\n    ports: [0, 1]\n", core.ErrConfigInvalid},
		{"port too wide", "mpswitch:\n  switch:\n    ports: [512]\n", core.ErrConfigInvalid},
		{"duplicate port", "mpswitch:\n  switch:\n    ports: [1, 1]\n", core.ErrConfigInvalid},
		{"register size", "mpswitch:\n  switch:\n    register_size: 1000\n", core.ErrRegisterSize},
		{"probe in ecmp", "mpswitch:\n  switch:\n    mode: ecmp\n  probe:\n    enabled: true\n", core.ErrConfigInvalid},
		{"probe interval", "mpswitch:\n  probe:\n    enabled: true\n    interval: soon\n", core.ErrConfigInvalid},
		{"probe port", "mpswitch:\n  probe:\n    enabled: true\n    ingress_port: 9\n", core.ErrConfigInvalid},
		{"binding port", "mpswitch:\n  dataplane:\n    bindings:\n      - {port: 9, device: eth0}\n", core.ErrConfigInvalid},
		{"binding device", "mpswitch:\n  dataplane:\n    bindings:\n      - {port: 1}\n", core.ErrConfigInvalid},
		{"binding twice", "mpswitch:\n  dataplane:\n    bindings:\n      - {port: 1, device: eth0}\n      - {port: 1, device: eth1}\n", core.ErrConfigInvalid},
		{"command channel brokers", "mpswitch:\n  command_channel:\n    enabled: true\n    kafka:\n      topic: cmds\n", core.ErrConfigInvalid},
		{"command channel type", "mpswitch:\n  command_channel:\n    enabled: true\n    type: nats\n", core.ErrConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yml", tt.content))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadDataplaneAndCommandChannel(t *testing.T) {
	configPath := writeFile(t, "config.yml", `
mpswitch:
  switch:
    id: "spine2"
    ports: [1, 2]
  dataplane:
    bindings:
      - port: 1
        device: "veth1"
      - port: 2
        device: "veth2"
  command_channel:
    enabled: true
    kafka:
      brokers: ["kafka-1:9092", "kafka-2:9092"]
      topic: "mpswitch-commands"
      response_topic: "mpswitch-responses"
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.Len(t, cfg.Dataplane.Bindings, 2)
	assert.Equal(t, BindingConfig{Port: 2, Device: "veth2"}, cfg.Dataplane.Bindings[1])
	assert.Equal(t, 65535, cfg.Dataplane.SnapLen)

	cc := cfg.CommandChannel
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cc.Kafka.Brokers)
	assert.Equal(t, "mpswitch-spine2", cc.Kafka.GroupID)
	assert.Equal(t, "latest", cc.Kafka.AutoOffsetReset)
	assert.Equal(t, "5m", cc.CommandTTL)
}
