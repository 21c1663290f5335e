package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recallkit/internal/embedder"
	"github.com/dshills/recallkit/pkg/engine"
)

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Embedding = embedder.Config{Provider: embedder.ProviderLocal, Dimension: 64}
	eng, err := engine.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return NewServer(eng, nil)
}

func call(t *testing.T, h toolHandler, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := h(context.Background(), req)
	if err != nil {
		return nil, err
	}
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, nil
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestToolsRegistered(t *testing.T) {
	s := newTestServer(t)
	resp := s.mcp.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	for _, name := range []string{"add_record", "update_field", "search_records", "backfill_embeddings", "rebuild_index", "get_stats", "clear_all"} {
		assert.Contains(t, string(raw), `"`+name+`"`)
	}
}

func TestAddUpdateSearchFlow(t *testing.T) {
	s := newTestServer(t)

	out, err := call(t, s.handleAddRecord, map[string]interface{}{
		"id":      "doc1",
		"request": "how to configure the database connection",
	})
	require.NoError(t, err)
	assert.Equal(t, "doc1", out["id"])

	_, err = call(t, s.handleUpdateField, map[string]interface{}{
		"id":    "doc1",
		"field": "response",
		"text":  "set the database url in the config file",
	})
	require.NoError(t, err)

	out, err = call(t, s.handleSearchRecords, map[string]interface{}{
		"query": "database config file",
		"top_k": float64(5),
		"level": float64(2),
	})
	require.NoError(t, err)

	results, ok := out["results"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, results)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "doc1", first["id"])
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, "set the database url in the config file", first["response"])
}

func TestAddRecord_GeneratedID(t *testing.T) {
	s := newTestServer(t)
	out, err := call(t, s.handleAddRecord, map[string]interface{}{"request": "no id given", "embed": false})
	require.NoError(t, err)
	assert.Len(t, out["id"], 36)
	assert.Equal(t, false, out["embedded"])
}

func TestParameterValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		handler toolHandler
		args    map[string]interface{}
		code    int
	}{
		{"add without request", s.handleAddRecord, map[string]interface{}{"id": "x"}, ErrorCodeInvalidParams},
		{"update without id", s.handleUpdateField, map[string]interface{}{"field": "response", "text": "t"}, ErrorCodeInvalidParams},
		{"update unknown field", s.handleUpdateField, map[string]interface{}{"id": "x", "field": "request", "text": "t"}, ErrorCodeInvalidParams},
		{"empty query", s.handleSearchRecords, map[string]interface{}{"query": "  "}, ErrorCodeEmptyQuery},
		{"top_k too large", s.handleSearchRecords, map[string]interface{}{"query": "q", "top_k": float64(500)}, ErrorCodeInvalidParams},
		{"min_similarity out of range", s.handleSearchRecords, map[string]interface{}{"query": "q", "min_similarity": 1.5}, ErrorCodeInvalidParams},
		{"bad level", s.handleSearchRecords, map[string]interface{}{"query": "q", "level": float64(7)}, ErrorCodeInvalidParams},
		{"bad mode", s.handleBackfillEmbeddings, map[string]interface{}{"mode": "sometimes"}, ErrorCodeInvalidParams},
		{"clear without confirm", s.handleClearAll, map[string]interface{}{}, ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, tt.handler, tt.args)
			requireCode(t, err, tt.code)
		})
	}

	req := mcp.CallToolRequest{}
	req.Params.Arguments = "not a map"
	_, err := s.handleAddRecord(context.Background(), req)
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestMaintenanceTools(t *testing.T) {
	s := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := call(t, s.handleAddRecord, map[string]interface{}{"id": id, "request": "text " + id, "embed": id == "a"})
		require.NoError(t, err)
	}

	out, err := call(t, s.handleBackfillEmbeddings, map[string]interface{}{"mode": "missing", "batch_size": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["total"])
	assert.Equal(t, float64(2), out["succeeded"])
	assert.Equal(t, float64(1), out["skipped"])

	out, err = call(t, s.handleRebuildIndex, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["rebuilt"])
	assert.Equal(t, float64(3), out["rows"])

	out, err = call(t, s.handleGetStats, nil)
	require.NoError(t, err)
	stats := out["statistics"].(map[string]interface{})
	assert.Equal(t, float64(3), stats["total_records"])
	assert.Equal(t, float64(3), stats["records_with_embeddings"])
	assert.Equal(t, float64(3), stats["vector_index_entries"])
	assert.Equal(t, embedder.ProviderLocal, out["embedding"].(map[string]interface{})["provider"])

	_, err = call(t, s.handleClearAll, map[string]interface{}{"confirm": true})
	require.NoError(t, err)
	out, err = call(t, s.handleGetStats, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(0), out["statistics"].(map[string]interface{})["total_records"])
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeStoreBusy, "store busy", nil)
	assert.Equal(t, "MCP error -32003: store busy", err.Error())

	seen := map[int]bool{}
	for _, code := range []int{ErrorCodeInvalidParams, ErrorCodeInternalError, ErrorCodeRecordNotFound,
		ErrorCodeMaintenanceInProgress, ErrorCodeStoreBusy, ErrorCodeEmptyQuery} {
		assert.Negative(t, code)
		assert.False(t, seen[code], "duplicate code %d", code)
		seen[code] = true
	}
}
