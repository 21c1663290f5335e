package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/recallkit/internal/indexer"
	"github.com/dshills/recallkit/internal/searcher"
	"github.com/dshills/recallkit/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams         = -32602 // Invalid method parameters
	ErrorCodeInternalError         = -32603 // Internal JSON-RPC error
	ErrorCodeRecordNotFound        = -32001 // Record id does not exist
	ErrorCodeMaintenanceInProgress = -32002 // Another backfill or rebuild is running
	ErrorCodeStoreBusy             = -32003 // Store stayed busy after retries
	ErrorCodeEmptyQuery            = -32004 // Query parameter is empty
)

// maxReportedErrors caps per-record failure messages in a backfill response
const maxReportedErrors = 5

// handleAddRecord handles the add_record tool invocation
func (s *Server) handleAddRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	text, ok := args["request"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return nil, missingParam("request")
	}
	id := getStringDefault(args, "id", "")
	embed := getBoolDefault(args, "embed", true)

	id, err := s.engine.AddRecord(ctx, id, text, embed)
	if err != nil {
		return nil, s.toMCPError(ctx, "add record failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":       id,
		"embedded": embed,
	})), nil
}

// handleUpdateField handles the update_field tool invocation
func (s *Server) handleUpdateField(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return nil, missingParam("id")
	}
	field, ok := args["field"].(string)
	if !ok || field == "" {
		return nil, missingParam("field")
	}
	text, ok := args["text"].(string)
	if !ok {
		return nil, missingParam("text")
	}
	embed := getBoolDefault(args, "embed", true)

	if err := s.engine.UpdateField(ctx, id, field, text, embed); err != nil {
		return nil, s.toMCPError(ctx, "update field failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":      id,
		"field":   field,
		"updated": true,
	})), nil
}

// handleSearchRecords handles the search_records tool invocation
func (s *Server) handleSearchRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", searcher.DefaultTopK)
	if topK < 1 || topK > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", searcher.MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	minSimilarity := getFloatDefault(args, "min_similarity", 0)
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_similarity must be between 0 and 1", map[string]interface{}{
			"param": "min_similarity",
			"value": minSimilarity,
		})
	}

	level := getIntDefault(args, "level", searcher.LevelRequest)

	start := time.Now()
	results, err := s.engine.Search(ctx, query, topK, minSimilarity, level)
	if err != nil {
		return nil, s.toMCPError(ctx, "search failed", err)
	}

	items := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		item := map[string]interface{}{
			"rank":    r.Rank,
			"id":      r.Record.ID,
			"score":   r.Score,
			"source":  string(r.Source),
			"request": r.Record.Request,
		}
		for _, f := range []types.FieldName{types.FieldResponse, types.FieldToolResponse, types.FieldSummary} {
			if text := r.Record.Text(f); text != "" {
				item[string(f)] = text
			}
		}
		items = append(items, item)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"query":       query,
		"level":       level,
		"results":     items,
		"total":       len(items),
		"duration_ms": time.Since(start).Milliseconds(),
	})), nil
}

// handleBackfillEmbeddings handles the backfill_embeddings tool invocation
func (s *Server) handleBackfillEmbeddings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	mode := getStringDefault(args, "mode", string(indexer.ModeMissing))
	batchSize := getIntDefault(args, "batch_size", 0)
	if batchSize < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "batch_size must be positive", map[string]interface{}{
			"param": "batch_size",
			"value": batchSize,
		})
	}

	summary, err := s.engine.BackfillEmbeddings(ctx, mode, batchSize, nil)
	if err != nil {
		return nil, s.toMCPError(ctx, "backfill failed", err)
	}

	response := map[string]interface{}{
		"mode":        mode,
		"total":       summary.Total,
		"succeeded":   summary.Succeeded,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"cancelled":   summary.Cancelled,
		"duration_ms": summary.Duration.Milliseconds(),
	}
	if len(summary.Errors) > 0 {
		errs := summary.Errors
		if len(errs) > maxReportedErrors {
			errs = errs[:maxReportedErrors]
			response["error_count"] = len(summary.Errors)
		}
		response["errors"] = errs
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRebuildIndex handles the rebuild_index tool invocation
func (s *Server) handleRebuildIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	var rows int
	err := s.engine.RebuildIndex(ctx, func(p indexer.Progress) { rows = p.Processed })
	if err != nil {
		return nil, s.toMCPError(ctx, "rebuild failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"rebuilt":     true,
		"rows":        rows,
		"duration_ms": time.Since(start).Milliseconds(),
	})), nil
}

// handleGetStats handles the get_stats tool invocation
func (s *Server) handleGetStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.engine.GetStats(ctx)
	if err != nil {
		return nil, s.toMCPError(ctx, "failed to get stats", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"statistics": map[string]interface{}{
			"total_records":           stats.TotalRecords,
			"records_with_embeddings": stats.RecordsWithEmbeddings,
			"records_missing_vectors": stats.RecordsMissingVectors,
			"index_bucket_count":      stats.IndexBucketCount,
			"index_entry_count":       stats.IndexEntryCount,
			"vector_index_entries":    stats.VectorIndexEntries,
			"vector_index_buckets":    stats.VectorIndexBuckets,
			"db_size_mb":              fmt.Sprintf("%.2f", stats.SizeMB),
		},
		"embedding": map[string]interface{}{
			"provider":  stats.Provider,
			"model":     stats.Model,
			"dimension": stats.Dimension,
		},
		"health": map[string]interface{}{
			"pending_writes":      stats.PendingWrites,
			"maintenance_running": stats.MaintenanceRunning,
			"schema_version":      stats.SchemaVersion,
		},
	})), nil
}

// handleClearAll handles the clear_all tool invocation
func (s *Server) handleClearAll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if !getBoolDefault(args, "confirm", false) {
		return nil, newMCPError(ErrorCodeInvalidParams, "confirm must be true", map[string]interface{}{
			"param":  "confirm",
			"reason": "missing or false",
		})
	}

	if err := s.engine.ClearAll(ctx); err != nil {
		return nil, s.toMCPError(ctx, "clear failed", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"cleared": true})), nil
}

// Helper functions

// toMCPError maps engine errors onto MCP error codes
func (s *Server) toMCPError(ctx context.Context, message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case types.IsValidation(err):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeRecordNotFound, message, data)
	case errors.Is(err, indexer.ErrMaintenanceInProgress):
		return newMCPError(ErrorCodeMaintenanceInProgress, message, data)
	case errors.Is(err, types.ErrStoreBusy):
		return newMCPError(ErrorCodeStoreBusy, message, data)
	}
	s.logger.ErrorContext(ctx, message, "error", err)
	return newMCPError(ErrorCodeInternalError, message, data)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func missingParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
