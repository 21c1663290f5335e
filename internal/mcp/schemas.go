package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// addRecordTool returns the tool definition for add_record
func addRecordTool() mcp.Tool {
	return mcp.Tool{
		Name:        "add_record",
		Description: "Store a new conversational record holding the request text",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Record id; a UUID is generated when omitted. Adding an existing id is a no-op",
				},
				"request": map[string]interface{}{
					"type":        "string",
					"description": "Request text of the record",
				},
				"embed": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, generate vectors for the request before storing",
					"default":     true,
				},
			},
			Required: []string{"request"},
		},
	}
}

// updateFieldTool returns the tool definition for update_field
func updateFieldTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_field",
		Description: "Merge text into a field of a record. Responses append; summary and metadata are written once",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Record id",
				},
				"field": map[string]interface{}{
					"type":        "string",
					"description": "Field to update",
					"enum":        []string{"response", "toolResponse", "toolContent", "toolResult", "summary", "metadata"},
				},
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Text to merge into the field",
				},
				"embed": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, regenerate the field's vectors",
					"default":     true,
				},
			},
			Required: []string{"id", "field", "text"},
		},
	}
}

// searchRecordsTool returns the tool definition for search_records
func searchRecordsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_records",
		Description: "Search stored records with keywords and vector similarity",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"min_similarity": map[string]interface{}{
					"type":        "number",
					"description": "Minimum score threshold (0.0-1.0)",
					"default":     0.0,
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"level": map[string]interface{}{
					"type":        "integer",
					"description": "Fields searched: 1 request, 2 adds response, 3 adds tool response",
					"default":     1,
					"minimum":     1,
					"maximum":     3,
				},
			},
			Required: []string{"query"},
		},
	}
}

// backfillEmbeddingsTool returns the tool definition for backfill_embeddings
func backfillEmbeddingsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "backfill_embeddings",
		Description: "Generate vectors for records that lack them, or regenerate all vectors",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "missing: only unembedded fields; all: every populated field; replace: all, dropping vectors of empty fields",
					"enum":        []string{"missing", "all", "replace"},
					"default":     "missing",
				},
				"batch_size": map[string]interface{}{
					"type":        "integer",
					"description": "Records read per page",
					"default":     100,
					"minimum":     1,
				},
			},
		},
	}
}

// rebuildIndexTool returns the tool definition for rebuild_index
func rebuildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_index",
		Description: "Clear both vector indexes and replay every stored vector",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatsTool returns the tool definition for get_stats
func getStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_stats",
		Description: "Report record counts, index sizes and the embedding provider",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// clearAllTool returns the tool definition for clear_all
func clearAllTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_all",
		Description: "Delete every record and empty both indexes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"confirm": map[string]interface{}{
					"type":        "boolean",
					"description": "Must be true",
				},
			},
			Required: []string{"confirm"},
		},
	}
}
