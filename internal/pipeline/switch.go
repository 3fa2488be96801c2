package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/metrics"
	"firestige.xyz/mpswitch/internal/register"
	"firestige.xyz/mpswitch/internal/table"
)

// Emitter receives every verdict produced by the port workers, dropped or
// emitted. It is called concurrently from all workers.
type Emitter func(ingress core.Port, v Verdict)

// Switch is one switch instance: its tables, its registers and a driver
// fed by one bounded ingress queue and one worker per port.
//
// Independent Switch values share nothing.
type Switch struct {
	id     string
	tables *table.Set
	regs   *register.Store
	driver *Driver
	emit   Emitter
	logger *slog.Logger

	ports  []core.Port
	queues map[core.Port]chan []byte

	metrics  *Metrics
	received map[core.Port]prometheus.Counter
	latency  prometheus.Observer

	// Runtime state
	mu      sync.RWMutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// ID returns the switch identifier.
func (s *Switch) ID() string { return s.id }

// Mode returns the forwarding mode.
func (s *Switch) Mode() string { return s.driver.Mode() }

// Tables returns the switch's match-action tables.
func (s *Switch) Tables() *table.Set { return s.tables }

// Registers returns the switch's register store.
func (s *Switch) Registers() *register.Store { return s.regs }

// Ports returns the ingress ports in configuration order.
func (s *Switch) Ports() []core.Port { return slices.Clone(s.ports) }

// Start launches one worker per ingress port. Workers run until ctx is
// cancelled or Stop is called.
func (s *Switch) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return core.ErrSwitchStopped
	}
	if s.running {
		return fmt.Errorf("switch %s already started", s.id)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	for _, port := range s.ports {
		q := s.queues[port]
		s.group.Go(func() error {
			s.portLoop(ctx, port, q)
			return nil
		})
	}
	s.running = true

	s.logger.Info("switch started", "ports", len(s.ports))
	return nil
}

// Stop stops the workers and waits for them. Frames still queued are
// processed before Stop returns; on a switch that was never started they are
// processed on the calling goroutine. Stop is idempotent.
func (s *Switch) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.logger.Info("switch stopping")
	var err error
	if wasRunning {
		s.cancel()
		err = s.group.Wait()
	} else {
		// Submit holds the read lock while enqueueing, so the queues are
		// closed to new frames here.
		for _, port := range s.ports {
			s.drain(port, s.queues[port])
		}
	}

	st := s.Stats()
	s.logger.Info("switch stopped",
		"received", st.Received,
		"emitted", st.Emitted,
		"dropped", st.Dropped,
		"queue_drops", st.QueueDrops)
	return err
}

// Submit enqueues frame for processing on ingress port. It never blocks:
// a full queue rejects the frame with core.ErrQueueFull.
func (s *Switch) Submit(port core.Port, frame []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return core.ErrSwitchStopped
	}
	q, ok := s.queues[port]
	if !ok {
		return fmt.Errorf("%w: %d", core.ErrUnknownPort, port)
	}

	select {
	case q <- frame:
		return nil
	default:
		s.metrics.QueueDrops.Add(1)
		metrics.DropsTotal.WithLabelValues(s.id, "queue_full").Inc()
		return core.ErrQueueFull
	}
}

// Process runs one frame synchronously on the calling goroutine and
// records statistics. It does not call the emitter.
func (s *Switch) Process(frame []byte, ingress core.Port) Verdict {
	start := time.Now()
	v := s.driver.Process(frame, ingress)
	s.latency.Observe(time.Since(start).Seconds())
	s.record(ingress, v)
	return v
}

// Stats returns switch statistics.
func (s *Switch) Stats() Stats {
	return s.metrics.snapshot()
}

// portLoop is the per-port processing loop.
func (s *Switch) portLoop(ctx context.Context, port core.Port, q <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			s.drain(port, q)
			return

		case frame := <-q:
			s.handle(port, frame)
		}
	}
}

// drain processes whatever is still queued without waiting for more.
func (s *Switch) drain(port core.Port, q <-chan []byte) {
	for {
		select {
		case frame := <-q:
			s.handle(port, frame)
		default:
			return
		}
	}
}

func (s *Switch) handle(port core.Port, frame []byte) {
	v := s.Process(frame, port)
	if s.emit != nil {
		s.emit(port, v)
	}
}

func (s *Switch) record(ingress core.Port, v Verdict) {
	s.metrics.Received.Add(1)
	if c, ok := s.received[ingress]; ok {
		c.Inc()
	}

	if v.Meta.IsProbe {
		s.metrics.Probes.Add(1)
	}
	if v.Meta.RegisterUpdated {
		s.metrics.RegisterUpdates.Add(1)
		metrics.RegisterUpdatesTotal.WithLabelValues(s.id).Inc()
	}
	if v.Path != "" && v.Path != "none" {
		metrics.ForwardPathTotal.WithLabelValues(s.id, v.Path).Inc()
	}

	if !v.Emit {
		s.metrics.Dropped.Add(1)
		if v.Reason == DropParse {
			s.metrics.ParseErrors.Add(1)
		}
		metrics.DropsTotal.WithLabelValues(s.id, v.Reason).Inc()
		s.logger.Debug("packet dropped", "ingress_port", ingress, "reason", v.Reason)
		return
	}

	s.metrics.Emitted.Add(1)
	metrics.EmittedTotal.WithLabelValues(s.id, strconv.Itoa(int(v.Port))).Inc()
}
