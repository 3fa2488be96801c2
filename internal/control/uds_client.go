package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

var requestSeq atomic.Uint64

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends one command on a fresh connection and waits for its response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		raw = data
	}

	reqID := fmt.Sprintf("req-%d-%d", time.Now().UnixNano(), requestSeq.Add(1))
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
		ID:      reqID,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp JSONRPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if got := fmt.Sprintf("%v", resp.ID); got != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, got)
	}

	return &Response{
		ID:     reqID,
		Result: resp.Result,
		Error:  resp.Error,
	}, nil
}

// InstallRule is a convenience method for rule_install.
func (c *UDSClient) InstallRule(ctx context.Context, spec RuleSpec) (*Response, error) {
	return c.Call(ctx, MethodRuleInstall, RuleParams{Rule: spec})
}

// RemoveRule is a convenience method for rule_remove.
func (c *UDSClient) RemoveRule(ctx context.Context, spec RuleSpec) (*Response, error) {
	return c.Call(ctx, MethodRuleRemove, RuleParams{Rule: spec})
}

// ListRules is a convenience method for rule_list.
func (c *UDSClient) ListRules(ctx context.Context, tableName string) (*Response, error) {
	return c.Call(ctx, MethodRuleList, TableParams{Table: tableName})
}

// ReadRegisters is a convenience method for register_read.
func (c *UDSClient) ReadRegisters(ctx context.Context, keys []uint32) (*Response, error) {
	return c.Call(ctx, MethodRegisterRead, RegisterParams{Keys: keys})
}

// ResetRegisters is a convenience method for register_reset.
func (c *UDSClient) ResetRegisters(ctx context.Context, keys []uint32) (*Response, error) {
	return c.Call(ctx, MethodRegisterReset, RegisterParams{Keys: keys})
}

// Ping checks that the daemon answers daemon_status.
func (c *UDSClient) Ping(ctx context.Context) error {
	resp, err := c.Call(ctx, MethodDaemonStatus, nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("daemon_status: %s", resp.Error.Message)
	}
	return nil
}
