package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/talentsift/talentsift/internal/search"
)

// NewMCPServer creates an MCP server exposing the resume index to agent
// clients: search_resumes for ranked retrieval and index_status for the
// engine state.
func NewMCPServer(searcher Searcher) *server.MCPServer {
	s := server.NewMCPServer(
		"talentsift",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("talentsift — semantic search over an indexed directory of candidate resumes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_resumes",
			mcp.WithDescription("Semantically search indexed resumes and return ranked candidates with matched excerpts and match justifications."),
			mcp.WithString("query", mcp.Description("Free-text description of the candidate being sought"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of candidates to return (default 5)")),
		),
		mcpSearchResumes(searcher),
	)

	s.AddTool(
		mcp.NewTool("index_status",
			mcp.WithDescription("Report the resume index state: readiness, document count, embedding model and build time."),
		),
		mcpIndexStatus(searcher),
	)

	return s
}

func mcpSearchResumes(searcher Searcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		results, err := searcher.Search(ctx, query, limit)
		if errors.Is(err, search.ErrNotReady) {
			return mcpError("the resume index is not ready; build it first"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIndexStatus(searcher Searcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := statusResponse{State: string(searcher.State())}
		if meta, ok := searcher.Meta(); ok {
			status.Documents = meta.DocumentCount
			status.EmbedModel = meta.EmbedModel
			status.Dimensions = meta.Dimensions
			status.BuiltAt = meta.BuiltAt.UTC().Format(time.RFC3339)
		}

		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
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
