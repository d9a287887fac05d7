package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/paperrag/internal/figures"
	"github.com/dshills/paperrag/internal/jobs"
	"github.com/dshills/paperrag/internal/searcher"
	"github.com/dshills/paperrag/internal/storage"
	"github.com/dshills/paperrag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodePaperNotFound  = -32001 // Paper has never been ingested
	ErrorCodeFigureNotFound = -32002 // Figure is not stored for the paper
	ErrorCodeEmptyQuery     = -32004 // Query parameter is empty
	ErrorCodeSearchFailed   = -32005 // Retrieval backend failed
)

const imageMIMEType = "image/png"

// handleRequestIngestion handles the request_ingestion tool invocation
func (s *Server) handleRequestIngestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paperID, err := requirePaperID(request)
	if err != nil {
		return nil, err
	}

	req, err := s.ingester.RequestIngestion(ctx, paperID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "ingestion request failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"paper_id": paperID,
		"queued":   req.Queued,
		"method":   req.Method,
		"status":   req.Status,
	})), nil
}

// handleGetJobStatus reports the in-memory job when tracked and falls back
// to the durable paper record
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paperID, err := requirePaperID(request)
	if err != nil {
		return nil, err
	}

	if job, ok := s.jobs.Get(paperID); ok {
		return mcp.NewToolResultText(formatJSON(jobMap(job))), nil
	}

	paper, err := s.storage.GetPaper(ctx, paperID)
	if errors.Is(err, storage.ErrNotFound) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"paper_id": paperID,
			"status":   jobs.StatusUnknown,
		})), nil
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get paper status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"paper_id":    paper.PaperID,
		"title":       paper.Title,
		"status":      paper.Status,
		"chunk_count": paper.ChunkCount,
	}
	if paper.ErrorMessage != "" {
		response["error"] = paper.ErrorMessage
	}
	if paper.Status == storage.PaperCompleted {
		response["progress"] = jobs.ProgressCompleted
		response["ingested_at"] = paper.IngestedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListJobs handles the list_jobs tool invocation
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all := s.jobs.All()
	list := make([]map[string]interface{}, 0, len(all))
	for _, j := range all {
		list = append(list, jobMap(j))
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"jobs":  list,
		"total": len(list),
	})), nil
}

// handleQueryPapers handles the query_papers tool invocation
func (s *Server) handleQueryPapers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", 0)
	if topK < 0 || topK > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	mode := getStringDefault(args, "search_mode", string(searcher.SearchModeHybrid))
	switch searcher.SearchMode(mode) {
	case searcher.SearchModeHybrid, searcher.SearchModeDense, searcher.SearchModeSparse:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"hybrid", "dense", "sparse"},
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    query,
		PaperIDs: getStringSlice(args, "paper_ids"),
		Section:  getStringDefault(args, "section", ""),
		TopK:     topK,
		Mode:     searcher.SearchMode(mode),
		UseCache: true,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeSearchFailed, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	render := getBoolDefault(args, "render_figures", false)
	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		content := r.Content
		if render {
			content, err = figures.Render(ctx, s.storage, r.Metadata.PaperID, content)
			if err != nil {
				return nil, newMCPError(ErrorCodeInternalError, "failed to render figures", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
		results = append(results, resultMap(r, content))
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"query":       query,
		"search_mode": resp.SearchMode,
		"total":       resp.TotalResults,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
		"results":     results,
	})), nil
}

// handleGetFigure handles the get_figure tool invocation
func (s *Server) handleGetFigure(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paperID, err := requirePaperID(request)
	if err != nil {
		return nil, err
	}
	figureID := strings.TrimSpace(getStringDefault(request.GetArguments(), "figure_id", ""))
	if figureID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "figure_id parameter is required", map[string]interface{}{
			"param":  "figure_id",
			"reason": "missing or empty",
		})
	}

	fig, err := s.storage.GetFigure(ctx, paperID, figureID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeFigureNotFound, figures.NotFound, map[string]interface{}{
			"paper_id":  paperID,
			"figure_id": figureID,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get figure", map[string]interface{}{
			"error": err.Error(),
		})
	}

	caption := fmt.Sprintf("Figure %s", fig.FigureID)
	if fig.Caption != "" {
		caption += ": " + fig.Caption
	}
	return mcp.NewToolResultImage(caption, fig.Data, imageMIMEType), nil
}

// handleListFigures handles the list_figures tool invocation
func (s *Server) handleListFigures(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paperID, err := requirePaperID(request)
	if err != nil {
		return nil, err
	}
	if err := s.requirePaper(ctx, paperID); err != nil {
		return nil, err
	}

	infos, err := s.storage.ListFigures(ctx, paperID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list figures", map[string]interface{}{
			"error": err.Error(),
		})
	}

	list := make([]map[string]interface{}, 0, len(infos))
	for _, f := range infos {
		list = append(list, map[string]interface{}{
			"figure_id": f.FigureID,
			"section":   f.Section,
			"caption":   f.Caption,
			"size_b64":  f.SizeB64,
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"paper_id": paperID,
		"figures":  list,
		"total":    len(list),
	})), nil
}

// handleListSections handles the list_sections tool invocation
func (s *Server) handleListSections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paperID, err := requirePaperID(request)
	if err != nil {
		return nil, err
	}
	if err := s.requirePaper(ctx, paperID); err != nil {
		return nil, err
	}

	sections, err := s.storage.ListSections(ctx, paperID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list sections", map[string]interface{}{
			"error": err.Error(),
		})
	}

	list := make([]map[string]interface{}, 0, len(sections))
	for _, sec := range sections {
		entry := map[string]interface{}{
			"key":           sec.Key,
			"title":         sec.Title,
			"section_type":  sec.Type,
			"is_subsection": sec.Subsection,
		}
		if sec.Number != "" {
			entry["section_number"] = sec.Number
		}
		if sec.Page > 0 {
			entry["page"] = sec.Page
		}
		list = append(list, entry)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"paper_id": paperID,
		"sections": list,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"papers_count":    status.PapersCount,
			"completed_count": status.CompletedCount,
			"failed_count":    status.FailedCount,
			"points_count":    status.PointsCount,
			"figures_count":   status.FiguresCount,
			"terms_count":     status.TermsCount,
			"index_size_mb":   fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"jobs": map[string]interface{}{
			"running": s.jobs.Running(),
			"queued":  s.jobs.QueueLength(),
		},
		"health": map[string]interface{}{
			"database_accessible":   status.Health.DatabaseAccessible,
			"points_available":      status.Health.PointsAvailable,
			"vector_extension_used": status.Health.VectorExtensionUsed,
		},
		"build_mode": status.BuildMode,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func (s *Server) requirePaper(ctx context.Context, paperID string) error {
	_, err := s.storage.GetPaper(ctx, paperID)
	if errors.Is(err, storage.ErrNotFound) {
		return newMCPError(ErrorCodePaperNotFound, "paper not ingested", map[string]interface{}{
			"paper_id": paperID,
		})
	}
	if err != nil {
		return newMCPError(ErrorCodeInternalError, "failed to get paper", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

func requirePaperID(request mcp.CallToolRequest) (string, error) {
	paperID := strings.TrimSpace(getStringDefault(request.GetArguments(), "paper_id", ""))
	if paperID == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "paper_id parameter is required", map[string]interface{}{
			"param":  "paper_id",
			"reason": types.ErrEmptyPaperID.Error(),
		})
	}
	return paperID, nil
}

func jobMap(j jobs.Job) map[string]interface{} {
	m := map[string]interface{}{
		"paper_id":   j.PaperID,
		"status":     j.Status,
		"progress":   j.Progress,
		"start_time": j.StartTime.Format("2006-01-02T15:04:05Z07:00"),
	}
	if j.Step != "" {
		m["step"] = j.Step
	}
	if j.Error != "" {
		m["error"] = j.Error
	}
	return m
}

func resultMap(r types.SearchResult, content string) map[string]interface{} {
	return map[string]interface{}{
		"rank":     r.Rank,
		"score":    r.Score,
		"content":  content,
		"metadata": r.Metadata,
	}
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

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice accepts a JSON array of strings or a single string
func getStringSlice(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case string:
		if v != "" {
			return []string{v}
		}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
