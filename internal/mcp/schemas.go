package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func paperIDProperty(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": desc,
	}
}

// requestIngestionTool returns the tool definition for request_ingestion
func requestIngestionTool() mcp.Tool {
	return mcp.Tool{
		Name:        "request_ingestion",
		Description: "Download, parse and index a paper so it becomes searchable. Returns immediately; poll get_job_status for progress.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"paper_id": paperIDProperty("Paper identifier, e.g. an arXiv id like 2401.12345"),
			},
			Required: []string{"paper_id"},
		},
	}
}

// getJobStatusTool returns the tool definition for get_job_status
func getJobStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_job_status",
		Description: "Report ingestion status, progress and error for a paper",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"paper_id": paperIDProperty("Paper identifier"),
			},
			Required: []string{"paper_id"},
		},
	}
}

// listJobsTool returns the tool definition for list_jobs
func listJobsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_jobs",
		Description: "List tracked ingestion jobs, running ones first, then the queue",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// queryPapersTool returns the tool definition for query_papers
func queryPapersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "query_papers",
		Description: "Search ingested papers with hybrid dense and keyword retrieval fused by reciprocal rank",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"paper_ids": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these papers",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"section": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one section type",
					"enum": []string{"abstract", "introduction", "methods", "results", "discussion",
						"conclusion", "related_work", "other", "full_text"},
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     5,
					"minimum":     1,
					"maximum":     100,
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (dense + sparse), dense (semantic only) or sparse (keywords only)",
					"enum":        []string{"hybrid", "dense", "sparse"},
					"default":     "hybrid",
				},
				"render_figures": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace <figure:ID> markers in results with the stored figure",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getFigureTool returns the tool definition for get_figure
func getFigureTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_figure",
		Description: "Fetch one figure image and caption from an ingested paper",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"paper_id": paperIDProperty("Paper identifier"),
				"figure_id": map[string]interface{}{
					"type":        "string",
					"description": "Figure number as printed in the paper, e.g. \"3\"",
				},
			},
			Required: []string{"paper_id", "figure_id"},
		},
	}
}

// listFiguresTool returns the tool definition for list_figures
func listFiguresTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_figures",
		Description: "List figure ids and captions of a paper without image data",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"paper_id": paperIDProperty("Paper identifier"),
			},
			Required: []string{"paper_id"},
		},
	}
}

// listSectionsTool returns the tool definition for list_sections
func listSectionsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_sections",
		Description: "Show the section outline of an ingested paper",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"paper_id": paperIDProperty("Paper identifier"),
			},
			Required: []string{"paper_id"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Index statistics and health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
