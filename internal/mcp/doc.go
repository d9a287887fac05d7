// Package mcp implements the Model Context Protocol (MCP) server for paperrag.
//
// The server exposes ingestion and retrieval over paper collections to AI
// assistants:
//   - request_ingestion: start downloading and indexing a paper
//   - get_job_status, list_jobs: follow ingestion progress
//   - query_papers: hybrid search over indexed chunks
//   - get_figure, list_figures: fetch figures extracted from papers
//   - list_sections: show a paper's outline
//   - get_status: index statistics and health
//
// MCP is JSON-RPC 2.0 over stdio. Nothing else may write to stdout while the
// server runs, so all logging goes to stderr.
//
// # Tool: request_ingestion
//
//	Request:
//	{
//	  "name": "request_ingestion",
//	  "arguments": {"paper_id": "2401.12345"}
//	}
//
//	Response:
//	{
//	  "paper_id": "2401.12345",
//	  "queued": false,
//	  "method": "started",
//	  "status": "pending"
//	}
//
// method is one of started, queued, already_active or already_completed.
// A completed paper is never ingested twice.
//
// # Tool: query_papers
//
//	Request:
//	{
//	  "name": "query_papers",
//	  "arguments": {
//	    "query": "how is routing trained",
//	    "paper_ids": ["2401.12345"],
//	    "section": "methods",
//	    "top_k": 5,
//	    "render_figures": true
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.0328,
//	      "content": "...",
//	      "metadata": {
//	        "paper_id": "2401.12345",
//	        "section": "methods",
//	        "section_title": "3 Method",
//	        "figures": ["2"]
//	      }
//	    }
//	  ]
//	}
//
// Scores are reciprocal rank fusion scores, comparable only within one
// response.
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "paperrag": {
//	      "command": "/usr/local/bin/paperrag",
//	      "args": ["serve"],
//	      "env": {
//	        "JINA_API_KEY": "your-api-key"
//	      }
//	    }
//	  }
//	}
//
// # Error Handling
//
// Handlers return *MCPError values:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, embedding provider)
//   - -32001: Paper not ingested
//   - -32002: Figure not found
//   - -32004: Empty query
//   - -32005: Search failed
//
// A search backend failure is an error, never an empty result list.
package mcp
