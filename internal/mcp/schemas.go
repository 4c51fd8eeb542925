package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/triage-mcp/internal/retriever"
)

// triageRequestTool returns the tool definition for triage_request
func triageRequestTool() mcp.Tool {
	return mcp.Tool{
		Name:        "triage_request",
		Description: "Route a support request and, where the route allows, produce a response or draft",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"request_id": map[string]interface{}{
					"type":        "string",
					"description": "Unique ticket identifier",
				},
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Request body as written by the resident",
				},
				"priority": map[string]interface{}{
					"type":        "string",
					"description": "Ticket priority; urgent and critical always escalate",
					"enum":        []string{"low", "normal", "medium", "high", "urgent", "critical"},
					"default":     "normal",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Category assigned by the categorization step (e.g., parking, bylaws)",
				},
				"complexity": map[string]interface{}{
					"type":        "integer",
					"description": "Complexity score 1-5; above the configured maximum escalates",
					"minimum":     0,
					"maximum":     5,
				},
				"human_review": map[string]interface{}{
					"type":        "boolean",
					"description": "Force human review",
					"default":     false,
				},
			},
			Required: []string{"request_id", "text"},
		},
	}
}

// searchKnowledgeTool returns the tool definition for search_knowledge
func searchKnowledgeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_knowledge",
		Description: "Search the knowledge base with hybrid vector and keyword retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one category",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     retriever.DefaultK,
					"minimum":     1,
					"maximum":     retriever.MaxK,
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector only, or keyword only",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
			},
			Required: []string{"query"},
		},
	}
}

// recordFeedbackTool returns the tool definition for record_feedback
func recordFeedbackTool() mcp.Tool {
	return mcp.Tool{
		Name:        "record_feedback",
		Description: "Record how a response was received; successful responses become validated examples",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"request_id": map[string]interface{}{
					"type":        "string",
					"description": "Ticket the feedback is for",
				},
				"request_text": map[string]interface{}{
					"type":        "string",
					"description": "Original request text",
				},
				"response_text": map[string]interface{}{
					"type":        "string",
					"description": "Response that was sent",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Request category",
				},
				"satisfaction": map[string]interface{}{
					"type":        "number",
					"description": "Survey score 0-5",
					"minimum":     0,
					"maximum":     5,
				},
				"outcome": map[string]interface{}{
					"type":        "string",
					"description": "Whether the response resolved the request",
					"enum":        []string{"success", "failure"},
				},
				"item_id": map[string]interface{}{
					"type":        "integer",
					"description": "Knowledge item the response was based on, if any",
				},
			},
			Required: []string{"request_id", "outcome"},
		},
	}
}

// conversationReplyTool returns the tool definition for conversation_reply
func conversationReplyTool() mcp.Tool {
	return mcp.Tool{
		Name:        "conversation_reply",
		Description: "Track a follow-up from the resident and re-evaluate the route",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"request_id": map[string]interface{}{
					"type":        "string",
					"description": "Ticket the reply belongs to",
				},
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Reply text",
				},
			},
			Required: []string{"request_id", "text"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report learning phase, circuit breaker states, retry queue depth and store health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// ingestKnowledgeTool returns the tool definition for ingest_knowledge
func ingestKnowledgeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_knowledge",
		Description: "Load curated knowledge items from YAML or JSON seed files",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a seed file or a directory of seed files",
				},
			},
			Required: []string{"path"},
		},
	}
}
