package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/mpswitch/internal/config"
)

// KafkaCommand is the wire format for commands pushed by a remote controller.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "leaf1",
//	  "command":    "rule_install",
//	  "timestamp":  "2024-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    {"rule": {"table": "flowlet_table", ...}}
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`    // Protocol version ("v1")
	Target    string          `json:"target"`     // Switch id or "*" for broadcast
	Command   string          `json:"command"`    // Method name (e.g., "rule_install")
	Timestamp time.Time       `json:"timestamp"`  // When the command was issued
	RequestID string          `json:"request_id"` // Unique request ID for tracing
	Payload   json.RawMessage `json:"payload"`    // Command-specific parameters
}

// KafkaResponse is written to the response topic for every executed command.
type KafkaResponse struct {
	Version   string      `json:"version"`
	Source    string      `json:"source"` // Responding switch id
	Command   string      `json:"command"`
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Result    interface{} `json:"result,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
}

// messageReader is the subset of *kafka.Reader used for commands.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used for responses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches to handler.
//
// reader and writer are set at construction and never reassigned. Stop
// cancels a running Start and waits for it to return before closing them.
type KafkaCommandConsumer struct {
	ccConfig config.CommandChannelConfig
	switchID string // local switch id for target matching
	reader   messageReader
	writer   messageWriter // nil when no response topic is configured
	handler  Handler
	ttl      time.Duration // command TTL for stale-command rejection

	mu       sync.Mutex
	stopped  bool
	cancel   context.CancelFunc // cancels the running Start
	done     chan struct{}      // closed when Start returns
	stopOnce sync.Once
	stopErr  error
}

// NewKafkaCommandConsumer creates a new Kafka command consumer.
func NewKafkaCommandConsumer(ccConfig config.CommandChannelConfig, switchID string, handler Handler) (*KafkaCommandConsumer, error) {
	kc := ccConfig.Kafka
	if len(kc.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if kc.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if kc.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	ttl := 5 * time.Minute
	if ccConfig.CommandTTL != "" {
		var err error
		ttl, err = time.ParseDuration(ccConfig.CommandTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid command_ttl %q: %w", ccConfig.CommandTTL, err)
		}
	}

	var startOffset int64
	switch kc.AutoOffsetReset {
	case "earliest":
		startOffset = kafka.FirstOffset
	default:
		startOffset = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kc.Brokers,
		Topic:          kc.Topic,
		GroupID:        kc.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        1 * time.Second,
	})

	c := &KafkaCommandConsumer{
		ccConfig: ccConfig,
		switchID: switchID,
		reader:   reader,
		handler:  handler,
		ttl:      ttl,
	}
	if kc.ResponseTopic != "" {
		c.writer = &kafka.Writer{
			Addr:                   kafka.TCP(kc.Brokers...),
			Topic:                  kc.ResponseTopic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		}
	}
	return c, nil
}

// Start consumes commands until ctx is cancelled or Stop is called. It
// returns nil at once if the consumer is already stopped.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()
	defer close(done)
	defer cancel()

	slog.Info("kafka command consumer started",
		"brokers", c.ccConfig.Kafka.Brokers,
		"topic", c.ccConfig.Kafka.Topic,
		"group_id", c.ccConfig.Kafka.GroupID,
		"response_topic", c.ccConfig.Kafka.ResponseTopic,
		"switch_id", c.switchID,
		"ttl", c.ttl,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("kafka command consumer stopped", "reason", ctx.Err())
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process command",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

// processMessage executes one message. Commands for other switches and
// commands older than the TTL are skipped without a response.
func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.switchID {
		slog.Debug("skipping command not targeting this switch",
			"target", kCmd.Target,
			"switch_id", c.switchID,
			"request_id", kCmd.RequestID,
		)
		return nil
	}

	if !kCmd.Timestamp.IsZero() && time.Since(kCmd.Timestamp) > c.ttl {
		slog.Warn("skipping stale command",
			"command", kCmd.Command,
			"request_id", kCmd.RequestID,
			"timestamp", kCmd.Timestamp,
			"age", time.Since(kCmd.Timestamp),
			"ttl", c.ttl,
		)
		return nil
	}

	slog.Info("received kafka command",
		"command", kCmd.Command,
		"request_id", kCmd.RequestID,
		"target", kCmd.Target,
		"version", kCmd.Version,
	)

	response := c.handler.Handle(ctx, Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	})

	if err := c.respond(ctx, kCmd, response); err != nil {
		slog.Error("failed to write command response", "request_id", kCmd.RequestID, "error", err)
	}

	if response.Error != nil {
		return fmt.Errorf("command %s failed: %s", kCmd.Command, response.Error.Message)
	}

	slog.Info("command executed successfully",
		"method", kCmd.Command,
		"request_id", kCmd.RequestID,
	)
	return nil
}

func (c *KafkaCommandConsumer) respond(ctx context.Context, kCmd KafkaCommand, resp Response) error {
	if c.writer == nil {
		return nil
	}
	value, err := json.Marshal(KafkaResponse{
		Version:   "v1",
		Source:    c.switchID,
		Command:   kCmd.Command,
		RequestID: kCmd.RequestID,
		Timestamp: time.Now().UTC(),
		Result:    resp.Result,
		Error:     resp.Error,
	})
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(c.switchID), Value: value})
}

// Stop cancels a running Start, waits for the in-flight command to finish and
// then closes the reader and the response writer. It is safe to call more
// than once and concurrently with Start.
func (c *KafkaCommandConsumer) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		cancel, done := c.cancel, c.done
		c.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}

		var errs []error
		if c.reader != nil {
			slog.Info("closing kafka command consumer")
			if err := c.reader.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close kafka reader: %w", err))
			}
		}
		if c.writer != nil {
			if err := c.writer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
			}
		}
		c.stopErr = errors.Join(errs...)
	})
	return c.stopErr
}
