package control

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/mpswitch/internal/config"
)

type recordingHandler struct {
	mu   sync.Mutex
	cmds []Command
	fail bool
}

func (h *recordingHandler) Handle(_ context.Context, cmd Command) Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, cmd)
	if h.fail {
		return errorResponse(cmd.ID, ErrCodeInternalError, "boom")
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "ok"}}
}

type fakeWriter struct {
	mu          sync.Mutex
	msgs        []kafka.Message
	closed      bool
	afterClosed bool // a write arrived after Close
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.afterClosed = true
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// fakeReader hands out queued messages and blocks until ctx is done when
// the queue is empty.
type fakeReader struct {
	msgs chan kafka.Message

	mu          sync.Mutex
	commits     int
	closed      bool
	afterClosed bool // a fetch or commit arrived after Close
}

func newFakeReader() *fakeReader {
	return &fakeReader{msgs: make(chan kafka.Message, 4)}
}

func (r *fakeReader) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.afterClosed = true
	}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.touch()
	select {
	case msg := <-r.msgs:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.touch()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits += len(msgs)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// blockingHandler parks every command until release is closed.
type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
}

func (h *blockingHandler) Handle(_ context.Context, cmd Command) Response {
	h.entered <- struct{}{}
	<-h.release
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "ok"}}
}

func commandMessage(t *testing.T, cmd KafkaCommand) kafka.Message {
	t.Helper()
	value, err := json.Marshal(cmd)
	require.NoError(t, err)
	return kafka.Message{Topic: "mpswitch-commands", Value: value}
}

func TestNewKafkaCommandConsumerValidation(t *testing.T) {
	h := &recordingHandler{}

	_, err := NewKafkaCommandConsumer(config.CommandChannelConfig{}, "s1", h)
	assert.Error(t, err)

	_, err = NewKafkaCommandConsumer(config.CommandChannelConfig{
		Kafka: config.CommandKafkaConfig{Brokers: []string{"localhost:9092"}},
	}, "s1", h)
	assert.Error(t, err)

	_, err = NewKafkaCommandConsumer(config.CommandChannelConfig{
		Kafka: config.CommandKafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "cmds"},
	}, "s1", h)
	assert.Error(t, err)

	_, err = NewKafkaCommandConsumer(config.CommandChannelConfig{
		Kafka:      config.CommandKafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "cmds", GroupID: "g"},
		CommandTTL: "soon",
	}, "s1", h)
	assert.Error(t, err)

	c, err := NewKafkaCommandConsumer(config.CommandChannelConfig{
		Kafka: config.CommandKafkaConfig{
			Brokers: []string{"localhost:9092"}, Topic: "cmds", GroupID: "g", ResponseTopic: "acks",
		},
		CommandTTL: "30s",
	}, "s1", h)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.ttl)
	assert.NotNil(t, c.writer)
	assert.NoError(t, c.Stop())
	assert.NoError(t, c.Stop())
}

func TestKafkaProcessMessage(t *testing.T) {
	h := &recordingHandler{}
	w := &fakeWriter{}
	c := &KafkaCommandConsumer{switchID: "s1", handler: h, writer: w, ttl: time.Minute}
	ctx := context.Background()

	payload := json.RawMessage(`{"table":"flowlet_table"}`)
	for _, target := range []string{"s1", "*", ""} {
		err := c.processMessage(ctx, commandMessage(t, KafkaCommand{
			Version: "v1", Target: target, Command: MethodRuleList,
			Timestamp: time.Now(), RequestID: "r-" + target, Payload: payload,
		}))
		require.NoError(t, err)
	}
	require.Len(t, h.cmds, 3)
	assert.Equal(t, MethodRuleList, h.cmds[0].Method)
	assert.JSONEq(t, string(payload), string(h.cmds[0].Params))
	assert.Equal(t, "r-s1", h.cmds[0].ID)

	require.Len(t, w.msgs, 3)
	assert.Equal(t, []byte("s1"), w.msgs[0].Key)
	var resp KafkaResponse
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &resp))
	assert.Equal(t, "s1", resp.Source)
	assert.Equal(t, "r-s1", resp.RequestID)
	assert.Nil(t, resp.Error)
}

func TestKafkaProcessMessageSkips(t *testing.T) {
	h := &recordingHandler{}
	w := &fakeWriter{}
	c := &KafkaCommandConsumer{switchID: "s1", handler: h, writer: w, ttl: time.Minute}
	ctx := context.Background()

	require.NoError(t, c.processMessage(ctx, commandMessage(t, KafkaCommand{
		Target: "s2", Command: MethodSwitchStats, Timestamp: time.Now(),
	})))
	require.NoError(t, c.processMessage(ctx, commandMessage(t, KafkaCommand{
		Target: "s1", Command: MethodSwitchStats, Timestamp: time.Now().Add(-time.Hour),
	})))
	assert.Empty(t, h.cmds)
	assert.Empty(t, w.msgs)

	assert.Error(t, c.processMessage(ctx, kafka.Message{Value: []byte("{")}))
}

func TestKafkaProcessMessageFailure(t *testing.T) {
	h := &recordingHandler{fail: true}
	w := &fakeWriter{}
	c := &KafkaCommandConsumer{switchID: "s1", handler: h, writer: w, ttl: time.Minute}

	err := c.processMessage(context.Background(), commandMessage(t, KafkaCommand{
		Target: "s1", Command: MethodSwitchReset, RequestID: "r-9",
	}))
	assert.Error(t, err)

	require.Len(t, w.msgs, 1)
	var resp KafkaResponse
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "boom", resp.Error.Message)

	require.NoError(t, c.Stop())
	assert.True(t, w.closed)
}

func TestKafkaStopDuringCommand(t *testing.T) {
	r := newFakeReader()
	w := &fakeWriter{}
	h := &blockingHandler{entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := &KafkaCommandConsumer{switchID: "s1", handler: h, reader: r, writer: w, ttl: time.Minute}

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()

	r.msgs <- commandMessage(t, KafkaCommand{Target: "s1", Command: MethodSwitchStats, RequestID: "r-1"})
	<-h.entered

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()

	// Stop waits for the in-flight command.
	select {
	case <-stopped:
		t.Fatal("Stop returned while a command was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.release)
	require.NoError(t, <-stopped)
	assert.ErrorIs(t, <-started, context.Canceled)

	w.mu.Lock()
	assert.Len(t, w.msgs, 1)
	assert.True(t, w.closed)
	assert.False(t, w.afterClosed)
	w.mu.Unlock()

	r.mu.Lock()
	assert.True(t, r.closed)
	assert.False(t, r.afterClosed)
	r.mu.Unlock()

	assert.NoError(t, c.Stop())
}

func TestKafkaStopBeforeStart(t *testing.T) {
	r := newFakeReader()
	c := &KafkaCommandConsumer{switchID: "s1", handler: &recordingHandler{}, reader: r, ttl: time.Minute}

	require.NoError(t, c.Stop())
	assert.NoError(t, c.Start(context.Background()))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.True(t, r.closed)
	assert.False(t, r.afterClosed)
}
