// Package mcp implements the Model Context Protocol (MCP) server for recallkit.
//
// The server exposes one engine to AI assistants as seven tools:
//   - add_record: store a record holding request text
//   - update_field: merge text into response, tool response, summary or metadata
//   - search_records: hybrid keyword and vector search
//   - backfill_embeddings: generate missing vectors, or regenerate all of them
//   - rebuild_index: replay stored vectors into fresh indexes
//   - get_stats: record counts, index sizes and provider details
//   - clear_all: delete everything (requires confirm=true)
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Tool: search_records
//
//	Request:
//	{
//	  "name": "search_records",
//	  "arguments": {
//	    "query": "rotate signing key",
//	    "top_k": 5,
//	    "min_similarity": 0.2,
//	    "level": 2
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "id": "0b6f...",
//	      "score": 0.87,
//	      "source": "lexical",
//	      "request": "how do I rotate the signing key?",
//	      "response": "run keyctl rotate and redeploy"
//	    }
//	  ],
//	  "total": 1
//	}
//
// Level 1 scores the request only, level 2 adds the response and level 3 adds
// the tool response.
//
// # Error Handling
//
// Tool failures are returned as MCPError values:
//   - -32602: invalid params (missing arguments, unknown field, bad level)
//   - -32603: internal error
//   - -32001: record not found
//   - -32002: a backfill or rebuild is already running
//   - -32003: the store stayed busy after retries
//   - -32004: empty query
//
// # Logging
//
// The server logs to stderr; stdout is reserved for the protocol.
package mcp
