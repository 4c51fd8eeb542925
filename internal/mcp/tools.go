package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/triage-mcp/internal/indexer"
	"github.com/dshills/triage-mcp/internal/resilience"
	"github.com/dshills/triage-mcp/internal/retriever"
	"github.com/dshills/triage-mcp/internal/triage"
	"github.com/dshills/triage-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeDatastore         = -32001 // Backing store unavailable
	ErrorCodeIngestInProgress  = -32002 // Another ingest is already running
	ErrorCodeProviderRejected  = -32003 // A provider refused the request (auth, bad input)
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
	ErrorCodeConversationUnset = -32005 // Conversation tracking is not configured
)

// handleTriageRequest handles the triage_request tool invocation
func (s *Server) handleTriageRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, err := requireString(args, "request_id")
	if err != nil {
		return nil, err
	}
	text, err := requireString(args, "text")
	if err != nil {
		return nil, err
	}

	out, err := s.service.Triage(ctx, triage.Request{
		ID:          id,
		Text:        text,
		Priority:    types.Priority(getStringDefault(args, "priority", "")),
		Category:    getStringDefault(args, "category", ""),
		Complexity:  getIntDefault(args, "complexity", 0),
		HumanReview: getBoolDefault(args, "human_review", false),
	})
	if err != nil {
		return nil, s.toMCPError("triage failed", err)
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

// handleSearchKnowledge handles the search_knowledge tool invocation
func (s *Server) handleSearchKnowledge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
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

	limit := getIntDefault(args, "limit", retriever.DefaultK)
	if limit < 1 || limit > retriever.MaxK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", retriever.MaxK), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := retriever.Mode(getStringDefault(args, "search_mode", string(retriever.ModeHybrid)))
	switch mode {
	case retriever.ModeHybrid, retriever.ModeVector, retriever.ModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	resp, err := s.service.Search(ctx, retriever.Query{
		Text:     query,
		Category: getStringDefault(args, "category", ""),
		K:        limit,
		Mode:     mode,
		UseCache: true,
	})
	if err != nil {
		return nil, s.toMCPError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Matches))
	for i := range resp.Matches {
		m := &resp.Matches[i]
		r := map[string]interface{}{
			"rank":               m.Rank,
			"item_id":            m.ItemID,
			"fused_score":        m.FusedScore,
			"similarity":         m.Similarity(),
			"vector_similarity":  m.VectorSimilarity,
			"keyword_similarity": m.KeywordSimilarity,
		}
		if m.Item != nil {
			r["title"] = m.Item.Title
			r["body"] = m.Item.Body
			r["category"] = m.Item.Category
			r["success_rate"] = m.Item.SuccessRate
		}
		results = append(results, r)
	}

	response := map[string]interface{}{
		"results":         results,
		"total_results":   len(results),
		"mode":            resp.Mode,
		"degraded":        resp.Degraded,
		"cache_hit":       resp.CacheHit,
		"vector_results":  resp.VectorResults,
		"keyword_results": resp.KeywordResults,
		"duration_ms":     resp.Duration.Milliseconds(),
	}
	if resp.DegradedReason != "" {
		response["degraded_reason"] = resp.DegradedReason
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRecordFeedback handles the record_feedback tool invocation
func (s *Server) handleRecordFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, err := requireString(args, "request_id")
	if err != nil {
		return nil, err
	}

	var success bool
	switch outcome := getStringDefault(args, "outcome", ""); outcome {
	case "success":
		success = true
	case "failure":
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "outcome must be success or failure", map[string]interface{}{
			"param": "outcome",
			"value": outcome,
		})
	}

	satisfaction := getFloatDefault(args, "satisfaction", 0)
	if satisfaction < 0 || satisfaction > 5 {
		return nil, newMCPError(ErrorCodeInvalidParams, "satisfaction must be between 0 and 5", map[string]interface{}{
			"param": "satisfaction",
			"value": satisfaction,
		})
	}

	res, err := s.service.Feedback(ctx, triage.Feedback{
		RequestID:    id,
		RequestText:  getStringDefault(args, "request_text", ""),
		ResponseText: getStringDefault(args, "response_text", ""),
		Category:     getStringDefault(args, "category", ""),
		Satisfaction: satisfaction,
		Success:      success,
		ItemID:       int64(getIntDefault(args, "item_id", 0)),
	})
	if err != nil {
		return nil, s.toMCPError("failed to record feedback", err)
	}
	return mcp.NewToolResultText(formatJSON(res)), nil
}

// handleConversationReply handles the conversation_reply tool invocation
func (s *Server) handleConversationReply(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, err := requireString(args, "request_id")
	if err != nil {
		return nil, err
	}
	text, err := requireString(args, "text")
	if err != nil {
		return nil, err
	}

	out, err := s.service.Reply(ctx, id, text)
	if err != nil {
		return nil, s.toMCPError("conversation update failed", err)
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.service.Status(ctx)
	if err != nil {
		return nil, s.toMCPError("failed to get status", err)
	}
	return mcp.NewToolResultText(formatJSON(st)), nil
}

// handleIngestKnowledge handles the ingest_knowledge tool invocation
func (s *Server) handleIngestKnowledge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	stats, err := s.ingester.IngestPath(ctx, path)
	if err != nil {
		return nil, s.toMCPError("ingest failed", err)
	}

	response := map[string]interface{}{
		"files_read":    stats.FilesRead,
		"items_indexed": stats.ItemsIndexed,
		"items_skipped": stats.ItemsSkipped,
		"items_failed":  stats.ItemsFailed,
		"duration_ms":   stats.Duration.Milliseconds(),
	}
	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
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

// toMCPError maps service errors onto protocol error codes
func (s *Server) toMCPError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}

	var ce *resilience.ClassifiedError
	switch {
	case errors.Is(err, types.ErrEmptyRequestID),
		errors.Is(err, types.ErrEmptyRequestText),
		errors.Is(err, types.ErrInvalidPriority),
		errors.Is(err, types.ErrInvalidComplexity),
		errors.Is(err, triage.ErrInvalidSatisfaction):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.Is(err, indexer.ErrIngestInProgress):
		return newMCPError(ErrorCodeIngestInProgress, message, data)
	case errors.Is(err, triage.ErrNoConversations):
		return newMCPError(ErrorCodeConversationUnset, message, data)
	case errors.Is(err, resilience.ErrDatastore):
		s.log.Error(message, "error", err)
		return newMCPError(ErrorCodeDatastore, message, data)
	case errors.As(err, &ce) && ce.Class == resilience.ClassSystematic:
		return newMCPError(ErrorCodeProviderRejected, message, data)
	}
	s.log.Warn(message, "error", err)
	return newMCPError(ErrorCodeInternalError, message, data)
}

// validatePath checks that path is an absolute, readable seed file or directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if info.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			return ErrPathNotReadable
		}
		_ = f.Close()
		return nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return nil
	}
	return ErrNotSeedFile
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// requireString extracts a non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return v, nil
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

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotSeedFile     = errors.New("path is not a .yaml, .yml or .json file")
)
