package control

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/mpswitch/internal/config"
	"firestige.xyz/mpswitch/internal/pipeline"
	"firestige.xyz/mpswitch/internal/table"
)

type stubReloader struct{ calls int }

func (r *stubReloader) Reload() error {
	r.calls++
	return nil
}

func newHandler(t *testing.T) (*CommandHandler, *pipeline.Switch) {
	t.Helper()
	sw, err := pipeline.NewBuilder().WithID("s1").WithMode(config.ModeHULA).WithPorts(1, 2).Build()
	require.NoError(t, err)
	plane := New(sw.ID(), sw.Tables(), sw.Registers())
	return NewCommandHandler(plane, sw, &stubReloader{}), sw
}

func call(t *testing.T, h *CommandHandler, method string, params any) Response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(t, err)
		raw = data
	}
	return h.Handle(context.Background(), Command{Method: method, Params: raw, ID: "t-1"})
}

func TestHandleRuleLifecycle(t *testing.T) {
	h, sw := newHandler(t)
	spec := RuleSpec{Table: table.ProbeFwd, Key: 7, Action: "set_nhop", Port: 2, MAC: "00:00:00:00:07:07"}

	resp := call(t, h, MethodRuleInstall, RuleParams{Rule: spec})
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, sw.Tables().ProbeFwd.Len())

	resp = call(t, h, MethodRuleList, TableParams{Table: table.ProbeFwd})
	require.Nil(t, resp.Error)
	listed := resp.Result.(map[string]interface{})["tables"].(map[string]interface{})
	assert.Equal(t, []RuleSpec{spec}, listed[table.ProbeFwd])

	resp = call(t, h, MethodRuleRemove, RuleParams{Rule: spec})
	require.Nil(t, resp.Error)
	assert.Equal(t, 0, sw.Tables().ProbeFwd.Len())

	resp = call(t, h, MethodRuleRemove, RuleParams{Rule: spec})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestHandleErrors(t *testing.T) {
	h, _ := newHandler(t)

	resp := call(t, h, "table_dump", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)

	resp = h.Handle(context.Background(), Command{Method: MethodRuleInstall, Params: json.RawMessage(`{"rule":`), ID: "x"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	resp = call(t, h, MethodRuleInstall, RuleParams{Rule: RuleSpec{Table: "acl", Action: "drop"}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	resp = call(t, h, MethodTopologyLoad, TopologyParams{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	resp = call(t, h, MethodDaemonShutdown, nil)
	require.NotNil(t, resp.Error)
}

func TestHandleRegisters(t *testing.T) {
	h, sw := newHandler(t)
	require.True(t, sw.Registers().CompareAndUpdate(7, 30, 2))

	resp := call(t, h, MethodRegisterRead, RegisterParams{Keys: []uint32{7}})
	require.Nil(t, resp.Error)
	entries := resp.Result.(map[string]interface{})["registers"].([]RegisterEntry)
	assert.Equal(t, []RegisterEntry{{Index: 7, PathUtil: 30, BestPort: 2}}, entries)

	resp = call(t, h, MethodRegisterRead, nil)
	require.Nil(t, resp.Error)
	assert.Len(t, resp.Result.(map[string]interface{})["registers"], 1)

	resp = call(t, h, MethodRegisterReset, RegisterParams{Keys: []uint32{7}})
	require.Nil(t, resp.Error)
	_, port := sw.Registers().Read(7)
	assert.Equal(t, uint16(0), uint16(port))
}

func TestHandleTopologyLoad(t *testing.T) {
	h, sw := newHandler(t)
	path := filepath.Join(t.TempDir(), "topology.json")
	require.NoError(t, os.WriteFile(path, []byte(topologyJSON), 0644))

	resp := call(t, h, MethodTopologyLoad, TopologyParams{Path: path, Clear: true})
	require.Nil(t, resp.Error, "%v", resp.Error)
	assert.Equal(t, 1, sw.Tables().ECMPGroup.Len())
	assert.Equal(t, 2, sw.Tables().ECMPNhop.Len())

	// Loading again replaces rather than duplicates.
	resp = call(t, h, MethodTopologyLoad, TopologyParams{Path: path})
	require.Nil(t, resp.Error, "%v", resp.Error)
	assert.Equal(t, 1, sw.Tables().ECMPGroup.Len())
	assert.Equal(t, 2, sw.Tables().ECMPNhop.Len())
	assert.Equal(t, 1, sw.Tables().Flowlet.Len())

	resp = call(t, h, MethodTableClear, TableParams{})
	require.Nil(t, resp.Error)
	for _, tbl := range sw.Tables().All() {
		assert.Equal(t, 0, tbl.Len())
	}
}

func TestHandleStatusAndStats(t *testing.T) {
	h, sw := newHandler(t)
	sw.Process([]byte{0}, 1)

	resp := call(t, h, MethodSwitchStats, nil)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, uint64(1), result["received"])
	assert.Equal(t, uint64(1), result["parse_errors"])

	resp = call(t, h, MethodDaemonStatus, nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, config.ModeHULA, resp.Result.(map[string]interface{})["mode"])

	resp = call(t, h, MethodConfigReload, nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, h.configReloader.(*stubReloader).calls)

	done := make(chan struct{})
	h.SetShutdownFunc(func() { close(done) })
	resp = call(t, h, MethodDaemonShutdown, nil)
	require.Nil(t, resp.Error)
	<-done
}
