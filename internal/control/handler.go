package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/pipeline"
	"firestige.xyz/mpswitch/internal/register"
	"firestige.xyz/mpswitch/internal/table"
)

// Method names understood by Handle.
const (
	MethodRuleInstall    = "rule_install"
	MethodRuleRemove     = "rule_remove"
	MethodRuleList       = "rule_list"
	MethodTableClear     = "table_clear"
	MethodRegisterRead   = "register_read"
	MethodRegisterReset  = "register_reset"
	MethodTopologyLoad   = "topology_load"
	MethodSwitchReset    = "switch_reset"
	MethodSwitchStats    = "switch_stats"
	MethodConfigReload   = "config_reload"
	MethodDaemonStatus   = "daemon_status"
	MethodDaemonShutdown = "daemon_shutdown"
)

// Switch is the running switch the handler reports on.
type Switch interface {
	ID() string
	Mode() string
	Ports() []core.Port
	Tables() *table.Set
	Stats() pipeline.Stats
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	plane          *Plane
	sw             Switch
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      int64  // Unix timestamp of daemon start for uptime calc
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(plane *Plane, sw Switch, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		plane:          plane,
		sw:             sw,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "rule_install", "register_read"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodRuleInstall:
		return h.handleRuleInstall(ctx, cmd)
	case MethodRuleRemove:
		return h.handleRuleRemove(ctx, cmd)
	case MethodRuleList:
		return h.handleRuleList(ctx, cmd)
	case MethodTableClear:
		return h.handleTableClear(ctx, cmd)
	case MethodRegisterRead:
		return h.handleRegisterRead(ctx, cmd)
	case MethodRegisterReset:
		return h.handleRegisterReset(ctx, cmd)
	case MethodTopologyLoad:
		return h.handleTopologyLoad(ctx, cmd)
	case MethodSwitchReset:
		return h.handleSwitchReset(ctx, cmd)
	case MethodSwitchStats:
		return h.handleSwitchStats(ctx, cmd)
	case MethodConfigReload:
		return h.handleConfigReload(ctx, cmd)
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

func decodeParams(cmd Command, v any) *Response {
	if len(cmd.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		resp := errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		return &resp
	}
	return nil
}

// RuleParams represents parameters for rule_install and rule_remove.
type RuleParams struct {
	Rule RuleSpec `json:"rule"`
}

func (h *CommandHandler) handleRuleInstall(_ context.Context, cmd Command) Response {
	var params RuleParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	rule, err := params.Rule.Rule(h.plane.tables)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid rule: %v", err))
	}
	if err := h.plane.InstallRule(params.Rule.Table, rule); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("install rule failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"table":  params.Rule.Table,
			"status": "installed",
		},
	}
}

func (h *CommandHandler) handleRuleRemove(_ context.Context, cmd Command) Response {
	var params RuleParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	key, prefixLen, err := params.Rule.MatchKey(h.plane.tables)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid rule key: %v", err))
	}
	if err := h.plane.RemoveRule(params.Rule.Table, key, prefixLen); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("remove rule failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"table":  params.Rule.Table,
			"status": "removed",
		},
	}
}

// TableParams names one table. An empty name selects every table.
type TableParams struct {
	Table string `json:"table"`
}

func (h *CommandHandler) handleRuleList(_ context.Context, cmd Command) Response {
	var params TableParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	tables := h.plane.tables.All()
	if params.Table != "" {
		t, err := h.plane.tables.Get(params.Table)
		if err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
		}
		tables = []*table.Table{t}
	}

	result := make(map[string]interface{}, len(tables))
	for _, t := range tables {
		rules := t.Rules()
		specs := make([]RuleSpec, 0, len(rules))
		for _, r := range rules {
			specs = append(specs, SpecFromRule(t.Name(), t.Kind(), r))
		}
		result[t.Name()] = specs
	}

	return Response{ID: cmd.ID, Result: map[string]interface{}{"tables": result}}
}

func (h *CommandHandler) handleTableClear(_ context.Context, cmd Command) Response {
	var params TableParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	names := []string{params.Table}
	if params.Table == "" {
		names = names[:0]
		for _, t := range h.plane.tables.All() {
			names = append(names, t.Name())
		}
	}
	for _, name := range names {
		if err := h.plane.ClearTable(name); err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
		}
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"tables": names,
			"status": "cleared",
		},
	}
}

// RegisterParams lists register keys (ToR ids or IPv4 addresses as
// integers). An empty list selects every index.
type RegisterParams struct {
	Keys []uint32 `json:"keys"`
}

// RegisterEntry is the wire form of one register index.
type RegisterEntry struct {
	Index    uint32 `json:"index"`
	PathUtil uint16 `json:"path_util"`
	BestPort uint16 `json:"best_port"`
}

func toWire(entries []register.Entry) []RegisterEntry {
	out := make([]RegisterEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, RegisterEntry{Index: e.Index, PathUtil: e.PathUtil, BestPort: uint16(e.BestPort)})
	}
	return out
}

func (h *CommandHandler) handleRegisterRead(_ context.Context, cmd Command) Response {
	var params RegisterParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	var entries []register.Entry
	if len(params.Keys) == 0 {
		entries = h.plane.Registers()
	} else {
		for _, k := range params.Keys {
			entries = append(entries, h.plane.ReadRegister(k))
		}
	}

	return Response{ID: cmd.ID, Result: map[string]interface{}{"registers": toWire(entries)}}
}

func (h *CommandHandler) handleRegisterReset(_ context.Context, cmd Command) Response {
	var params RegisterParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	if len(params.Keys) == 0 {
		h.plane.ResetRegisters()
	} else {
		for _, k := range params.Keys {
			h.plane.ResetRegister(k)
		}
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"reset":  len(params.Keys),
			"status": "reset",
		},
	}
}

// TopologyParams points at a topology file on the daemon host.
type TopologyParams struct {
	Path  string `json:"path"`
	Clear bool   `json:"clear"` // Also reset registers; tables are always replaced
}

func (h *CommandHandler) handleTopologyLoad(_ context.Context, cmd Command) Response {
	var params TopologyParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	if params.Path == "" {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "path is required")
	}

	topo, err := config.LoadTopology(params.Path)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("load topology failed: %v", err))
	}
	st, ok := topo.Switch(h.plane.SwitchID())
	if !ok {
		return errorResponse(cmd.ID, ErrCodeInvalidParams,
			fmt.Sprintf("topology has no entry for switch %q", h.plane.SwitchID()))
	}

	if err := h.plane.Populate(st); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("populate failed: %v", err))
	}
	if params.Clear {
		h.plane.ResetRegisters()
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"switch_id": h.plane.SwitchID(),
			"status":    "loaded",
		},
	}
}

func (h *CommandHandler) handleSwitchReset(_ context.Context, cmd Command) Response {
	h.plane.ClearAll()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"switch_id": h.plane.SwitchID(),
			"status":    "reset",
		},
	}
}

func (h *CommandHandler) handleSwitchStats(_ context.Context, cmd Command) Response {
	st := h.sw.Stats()

	tables := make(map[string]interface{})
	for _, t := range h.sw.Tables().All() {
		tables[t.Name()] = t.Len()
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"switch_id":        h.sw.ID(),
			"received":         st.Received,
			"emitted":          st.Emitted,
			"dropped":          st.Dropped,
			"parse_errors":     st.ParseErrors,
			"queue_drops":      st.QueueDrops,
			"probes":           st.Probes,
			"register_updates": st.RegisterUpdates,
			"table_rules":      tables,
		},
	}
}

func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not configured")
	}
	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload failed: %v", err))
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "reloaded"}}
}

func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	ports := h.sw.Ports()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"switch_id":      h.sw.ID(),
			"mode":           h.sw.Mode(),
			"ports":          ports,
			"uptime_seconds": time.Now().Unix() - h.startTime,
		},
	}
}

func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown not supported")
	}
	go h.shutdownFunc()
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "shutting_down"}}
}
