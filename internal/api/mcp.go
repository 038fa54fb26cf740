package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/frontdesk/internal/escalation"
	"github.com/kalambet/frontdesk/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine  *escalation.Engine
	Clock   storage.Clock // optional; used by check_timeouts
	Version string
}

// NewMCPServer creates an MCP server with the caller and supervisor tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := server.NewMCPServer(
		"frontdesk",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("frontdesk: salon receptionist knowledge base and supervisor help-request queue."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("handle_call",
			mcp.WithDescription("Answer a caller question from the knowledge base, or escalate it to a supervisor."),
			mcp.WithString("question", mcp.Description("The caller's question"), mcp.Required()),
			mcp.WithString("caller_phone", mcp.Description("Caller phone number for the text-back"), mcp.Required()),
		),
		mcpHandleCall(deps),
	)

	s.AddTool(
		mcp.NewTool("list_help_requests",
			mcp.WithDescription("List help requests newest first."),
			mcp.WithString("status", mcp.Description("Filter by status: pending, resolved or timeout")),
		),
		mcpListHelpRequests(deps),
	)

	s.AddTool(
		mcp.NewTool("get_help_request",
			mcp.WithDescription("Fetch one help request by id."),
			mcp.WithString("id", mcp.Description("Help request id"), mcp.Required()),
		),
		mcpGetHelpRequest(deps),
	)

	s.AddTool(
		mcp.NewTool("resolve_help_request",
			mcp.WithDescription("Answer a pending help request. The answer is texted to the caller and learned for future calls."),
			mcp.WithString("id", mcp.Description("Help request id"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("The supervisor's answer"), mcp.Required()),
			mcp.WithString("supervisor_name", mcp.Description("Who answered (default Supervisor)")),
		),
		mcpResolveHelpRequest(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Search the knowledge base without recording usage."),
			mcp.WithString("question", mcp.Description("Search text"), mcp.Required()),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("check_timeouts",
			mcp.WithDescription("Time out every pending help request past its deadline."),
		),
		mcpCheckTimeouts(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"knowledge://most-used",
			"Most Used Answers",
			mcp.WithResourceDescription("Top 10 knowledge entries by usage count"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMostUsed(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"requests://pending",
			"Pending Help Requests",
			mcp.WithResourceDescription("Help requests waiting for a supervisor"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpHandleCall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		phone, err := req.RequireString("caller_phone")
		if err != nil {
			return mcpError("caller_phone is required"), nil
		}

		out, err := deps.Engine.Handle(ctx, question, phone)
		if err != nil {
			if escalation.IsRetryable(err) {
				return mcpError(escalation.ApologyPhrase), nil
			}
			return mcpError(fmt.Sprintf("handling call: %v", err)), nil
		}
		return mcpJSON(out)
	}
}

func mcpListHelpRequests(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := storage.Status(req.GetString("status", ""))

		requests, err := deps.Engine.List(ctx, status)
		if err != nil {
			return mcpError(fmt.Sprintf("listing help requests: %v", err)), nil
		}
		if requests == nil {
			requests = []storage.HelpRequest{}
		}
		return mcpJSON(requests)
	}
}

func mcpGetHelpRequest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		hr, err := deps.Engine.Get(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("getting help request: %v", err)), nil
		}
		return mcpJSON(hr)
	}
}

func mcpResolveHelpRequest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		answer, err := req.RequireString("answer")
		if err != nil {
			return mcpError("answer is required"), nil
		}
		by := req.GetString("supervisor_name", "")

		res, err := deps.Engine.Resolve(ctx, id, answer, by)
		if err != nil {
			return mcpError(fmt.Sprintf("resolving help request: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		entries, err := deps.Engine.SearchKnowledge(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if entries == nil {
			entries = []storage.KnowledgeEntry{}
		}
		return mcpJSON(entries)
	}
}

func mcpCheckTimeouts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := deps.Engine.ExpireOverdue(ctx, deps.Clock.Now())
		if err != nil {
			return mcpError(fmt.Sprintf("checking timeouts: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Timed out %d help request(s)", n)), nil
	}
}

func mcpResourceMostUsed(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Engine.MostUsed(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get most used entries: %w", err)
		}
		if entries == nil {
			entries = []storage.KnowledgeEntry{}
		}
		return jsonResource(req.Params.URI, entries)
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		requests, err := deps.Engine.List(ctx, storage.StatusPending)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending requests: %w", err)
		}

		type pendingSummary struct {
			ID          string `json:"id"`
			Question    string `json:"question"`
			CallerPhone string `json:"callerPhone"`
			CreatedAt   string `json:"createdAt"`
			TimeoutAt   string `json:"timeoutAt"`
		}

		summaries := make([]pendingSummary, len(requests))
		for i, hr := range requests {
			summaries[i] = pendingSummary{
				ID:          hr.ID,
				Question:    hr.Question,
				CallerPhone: hr.CallerPhone,
				CreatedAt:   hr.CreatedAt.Format(time.RFC3339),
				TimeoutAt:   hr.TimeoutAt.Format(time.RFC3339),
			}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
