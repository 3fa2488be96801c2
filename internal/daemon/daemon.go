// Package daemon implements the switch daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/control"
	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/iface"
	logpkg "firestige.xyz/mpswitch/internal/log"
	"firestige.xyz/mpswitch/internal/metrics"
	"firestige.xyz/mpswitch/internal/pipeline"
	"firestige.xyz/mpswitch/internal/probe"
)

// Daemon runs one switch and its control surfaces.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	sw            *pipeline.Switch
	plane         *control.Plane
	cmdHandler    *control.CommandHandler
	udsServer     *control.UDSServer
	kafkaConsumer *control.KafkaCommandConsumer // nil if command channel disabled
	metricsServer *metrics.Server               // nil if metrics disabled
	bindings      *iface.Bindings               // nil without dataplane bindings

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
	mu           sync.Mutex // guards config during reload
}

// New creates a new Daemon instance.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Switch returns the running switch. It is nil before Start.
func (d *Daemon) Switch() *pipeline.Switch { return d.sw }

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting mpswitch daemon",
		"switch_id", d.config.Switch.ID,
		"mode", d.config.Switch.Mode,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Bind interfaces and build the switch
	if err := d.buildSwitch(); err != nil {
		return err
	}

	// 5. Populate tables from the topology file
	topo, err := d.loadTopology()
	if err != nil {
		return err
	}

	// 6. Start port workers, then the frame sources feeding them
	if err := d.sw.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start switch: %w", err)
	}
	if d.bindings != nil {
		go func() {
			if err := d.bindings.Run(d.ctx, d.sw); err != nil {
				slog.Error("dataplane stopped with error", "error", err)
			}
		}()
	}
	if err := d.startProbeInjector(topo); err != nil {
		return err
	}
	d.startRegisterCollector()

	// 7. Create command handler
	d.cmdHandler = control.NewCommandHandler(d.plane, d.sw, d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	// 8. Start UDS server for CLI control
	d.udsServer = control.NewUDSServer(d.socketPath, d.cmdHandler)
	if err := d.udsServer.Listen(); err != nil {
		return err
	}
	go func() {
		if err := d.udsServer.Serve(d.ctx); err != nil {
			slog.Error("uds server failed", "error", err)
		}
	}()

	// 9. Start Kafka command consumer (if enabled)
	if d.config.CommandChannel.Enabled && d.config.CommandChannel.Type == "kafka" {
		if err := d.startKafkaConsumer(); err != nil {
			slog.Error("failed to start kafka consumer", "error", err)
			// Non-fatal: daemon can still run with UDS-only control
		}
	}

	slog.Info("daemon started successfully", "ports", d.sw.Ports())
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop Kafka command consumer first (no new commands)
	if d.kafkaConsumer != nil {
		slog.Info("stopping kafka command consumer")
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}

	// 2. Stop UDS server (no new CLI commands)
	if d.udsServer != nil {
		slog.Info("stopping uds server")
		d.udsServer.Stop()
	}

	// 3. Cancel context: frame sources, injector and collector stop
	d.cancel()

	// 4. Drain and stop the switch
	if d.sw != nil {
		if err := d.sw.Stop(); err != nil {
			slog.Error("error stopping switch", "error", err)
		}
	}
	if d.bindings != nil {
		d.bindings.Close()
	}

	// 5. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 6. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 7. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS/Kafka
//
// SIGHUP triggers a config reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads the global configuration and the topology file.
// Hot-reloadable: log level/format, topology contents.
// Cold (requires restart): switch.*, dataplane bindings, listen addresses.
// Implements control.ConfigReloader.
func (d *Daemon) Reload() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	oldConfig := d.config

	hotReloaded := []string{}
	requiresRestart := []string{}

	// 1. Re-initialize logging with new config (log level + format)
	d.config = newConfig
	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else if newConfig.Log.Level != oldConfig.Log.Level || newConfig.Log.Format != oldConfig.Log.Format {
		hotReloaded = append(hotReloaded, "log")
	}

	// 2. Replace table contents in one swap per table; registers keep their state
	if newConfig.Topology.File != "" {
		topo, err := config.LoadTopology(newConfig.Topology.File)
		if err != nil {
			return fmt.Errorf("failed to load topology: %w", err)
		}
		if st, ok := topo.Switch(d.sw.ID()); ok {
			if err := d.plane.Populate(st); err != nil {
				return fmt.Errorf("failed to populate tables: %w", err)
			}
			hotReloaded = append(hotReloaded, "topology")
		}
	}

	// 3. Report cold-reload items that changed; the running values are kept
	if !switchConfigEqual(newConfig.Switch, oldConfig.Switch) {
		requiresRestart = append(requiresRestart, "switch")
	}
	if newConfig.Metrics.Listen != oldConfig.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}
	if len(newConfig.Dataplane.Bindings) != len(oldConfig.Dataplane.Bindings) {
		requiresRestart = append(requiresRestart, "dataplane.bindings")
	}
	d.config.Switch = oldConfig.Switch
	d.config.Dataplane = oldConfig.Dataplane

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

func switchConfigEqual(a, b config.SwitchConfig) bool {
	if a.ID != b.ID || a.Mode != b.Mode || a.QueueSize != b.QueueSize || a.Hash != b.Hash ||
		a.HopIncrement != b.HopIncrement || a.RegisterSize != b.RegisterSize || len(a.Ports) != len(b.Ports) {
		return false
	}
	for i := range a.Ports {
		if a.Ports[i] != b.Ports[i] {
			return false
		}
	}
	return true
}

// TriggerShutdown triggers graceful shutdown from an external caller
// (e.g., the daemon_shutdown command).
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

func (d *Daemon) buildSwitch() error {
	sc := d.config.Switch
	b := pipeline.FromConfig(sc).WithLogger(logpkg.ForSwitch(sc.ID, sc.Mode))

	if len(d.config.Dataplane.Bindings) > 0 {
		bindings, err := iface.Open(sc.ID, d.config.Dataplane, logpkg.ForSwitch(sc.ID, sc.Mode))
		if err != nil {
			return fmt.Errorf("failed to open dataplane: %w", err)
		}
		d.bindings = bindings
		b = b.WithEmitter(bindings.Emit)
	}

	sw, err := b.Build()
	if err != nil {
		if d.bindings != nil {
			d.bindings.Close()
		}
		return fmt.Errorf("failed to build switch: %w", err)
	}
	d.sw = sw
	d.plane = control.New(sw.ID(), sw.Tables(), sw.Registers())
	return nil
}

// loadTopology populates the tables from topology.file. A topology without
// an entry for this switch leaves the tables empty.
func (d *Daemon) loadTopology() (*config.Topology, error) {
	if d.config.Topology.File == "" {
		slog.Warn("no topology file configured, tables start empty")
		return &config.Topology{}, nil
	}

	topo, err := config.LoadTopology(d.config.Topology.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology: %w", err)
	}
	st, ok := topo.Switch(d.sw.ID())
	if !ok {
		slog.Warn("topology has no entry for this switch",
			"switch_id", d.sw.ID(), "file", d.config.Topology.File)
		return topo, nil
	}
	if err := d.plane.Populate(st); err != nil {
		return nil, fmt.Errorf("failed to populate tables: %w", err)
	}
	return topo, nil
}

func (d *Daemon) startProbeInjector(topo *config.Topology) error {
	if !d.config.Probe.Enabled {
		return nil
	}
	probes, err := probe.FromTopology(topo.ProbeConfig.Probes)
	if err != nil {
		return err
	}
	if len(probes) == 0 {
		slog.Warn("probe injection enabled but topology lists no probes")
		return nil
	}
	interval, err := d.config.Probe.IntervalDuration()
	if err != nil {
		return fmt.Errorf("invalid probe.interval: %w", err)
	}

	inj := probe.NewInjector(d.sw.ID(), probes, core.Port(d.config.Probe.IngressPort), interval, d.sw)
	go func() {
		if err := inj.Run(d.ctx); err != nil {
			slog.Error("probe injector stopped with error", "error", err)
		}
	}()
	return nil
}

func (d *Daemon) startRegisterCollector() {
	if !d.config.Metrics.Enabled {
		return
	}
	interval, err := time.ParseDuration(d.config.Metrics.CollectInterval)
	if err != nil || interval <= 0 {
		slog.Warn("invalid metrics.collect_interval, defaulting to 5s",
			"value", d.config.Metrics.CollectInterval, "error", err)
		interval = 5 * time.Second
	}
	go d.plane.RunCollector(d.ctx, interval, nil)
}

func (d *Daemon) startKafkaConsumer() error {
	consumer, err := control.NewKafkaCommandConsumer(
		d.config.CommandChannel,
		d.sw.ID(),
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	go func() {
		if err := consumer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	slog.Info("metrics server started",
		"addr", d.metricsServer.Addr(),
		"path", d.config.Metrics.Path,
	)
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
