// Package mcp implements the Model Context Protocol (MCP) server for triage-mcp.
//
// The server exposes the triage pipeline to agents and operator tooling:
//   - triage_request: route a support request and produce a response or draft
//   - search_knowledge: hybrid search over the knowledge base
//   - record_feedback: report an outcome; successes become validated examples
//   - conversation_reply: track a follow-up and re-evaluate the route
//   - get_status: learning phase, circuit states, retry queue depth
//   - ingest_knowledge: load seed files (only when an ingester is configured)
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only; logs go to stderr.
//
// # Tool: triage_request
//
//	Request:
//	{
//	  "name": "triage_request",
//	  "arguments": {
//	    "request_id": "T-1042",
//	    "text": "Can my guest park in visitor parking overnight?",
//	    "priority": "normal",
//	    "category": "parking",
//	    "complexity": 2
//	  }
//	}
//
//	Response:
//	{
//	  "request_id": "T-1042",
//	  "path": "AUTO_RESPOND",
//	  "confidence": 0.91,
//	  "requires_human_review": false,
//	  "reason_code": "high_similarity_mature",
//	  "response": "Visitor stalls on P1 may be used for up to 24 hours...",
//	  "provider": "knowledge",
//	  "learning": {"phase": "autonomous", "examples": 134}
//	}
//
// When every provider fails the request escalates and the generation is
// parked in the retry queue:
//
//	{"path": "ESCALATE", "reason_code": "provider_exhausted", "queued": true, "operation_id": "..."}
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "triage": {
//	      "command": "/usr/local/bin/triage",
//	      "args": ["serve", "--config", "/etc/triage/triage.yaml"],
//	      "env": {
//	        "OPENAI_API_KEY": "your-api-key"
//	      }
//	    }
//	  }
//	}
//
// # Error Handling
//
// Handlers return *MCPError, encoded as JSON-RPC errors:
//   - -32602: Invalid params (missing/invalid arguments, bad priority)
//   - -32603: Internal error
//   - -32001: Datastore failure
//   - -32002: Ingest in progress
//   - -32003: Provider rejected the request (auth or bad input)
//   - -32004: Empty query
//   - -32005: Conversation tracking not configured
package mcp
