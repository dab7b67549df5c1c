package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/forja/internal/assemble"
	"github.com/kalambet/forja/internal/storage"
)

// ContextReader exposes the merged user context to the MCP layer.
type ContextReader interface {
	Assemble(userID string) (assemble.Context, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Assembler ContextReader
	Runner    PipelineRunner
}

// NewMCPServer creates an MCP server exposing the challenge pipeline as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"forja",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("forja generates daily personalized challenges: briefs, tasks, images and podcast audio per user."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_users",
			mcp.WithDescription("List the IDs of all registered users."),
		),
		mcpListUsers(deps),
	)

	s.AddTool(
		mcp.NewTool("get_user_context",
			mcp.WithDescription("Return the merged context (profile, recent progress, date) used to build prompts for a user."),
			mcp.WithString("user_id", mcp.Description("User to inspect"), mcp.Required()),
		),
		mcpGetUserContext(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_brief",
			mcp.WithDescription("Run stage 1 for a user: generate today's motivational brief and create the challenge record."),
			mcp.WithString("user_id", mcp.Description("User to generate for"), mcp.Required()),
		),
		mcpGenerateBrief(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_challenge",
			mcp.WithDescription("Run the full pipeline for a user: brief, daily task, image and podcast audio."),
			mcp.WithString("user_id", mcp.Description("User to generate for"), mcp.Required()),
		),
		mcpGenerateChallenge(deps),
	)

	s.AddTool(
		mcp.NewTool("get_challenge",
			mcp.WithDescription("Fetch a challenge record by ID."),
			mcp.WithString("challenge_id", mcp.Description("Challenge record ID"), mcp.Required()),
		),
		mcpGetChallenge(deps),
	)

	s.AddTool(
		mcp.NewTool("add_progress",
			mcp.WithDescription("Record a progress note for a user; recent notes feed the next day's prompts."),
			mcp.WithString("user_id", mcp.Description("User the note belongs to"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Progress note text"), mcp.Required()),
		),
		mcpAddProgress(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"forja://users",
			"Registered Users",
			mcp.WithResourceDescription("IDs of all registered users as a JSON array"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceUsers(deps),
	)

	return s
}

func mcpListUsers(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := deps.Store.ListUserIDs()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list users: %v", err)), nil
		}
		if ids == nil {
			ids = []string{}
		}
		b, err := json.Marshal(ids)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal user ids: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetUserContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		uctx, err := deps.Assembler.Assemble(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to assemble context: %v", err)), nil
		}

		b, err := json.Marshal(uctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal context: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGenerateBrief(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		challengeID, err := deps.Runner.GenerateBrief(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("brief generation failed: %v", err)), nil
		}

		c, err := deps.Store.GetChallenge(challengeID)
		if err != nil {
			return mcpError(fmt.Sprintf("brief created but record %s could not be read: %v", challengeID, err)), nil
		}

		b, err := json.Marshal(map[string]string{"challenge_id": c.ID, "brief": c.Brief})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGenerateChallenge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		out, err := deps.Runner.ProcessUser(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("challenge generation failed: %v", err)), nil
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal outcome: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetChallenge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("challenge_id")
		if err != nil {
			return mcpError("challenge_id is required"), nil
		}

		c, err := deps.Store.GetChallenge(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get challenge: %v", err)), nil
		}

		b, err := json.Marshal(c)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal challenge: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddProgress(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		if _, err := deps.Store.GetProfile(userID); err != nil {
			return mcpError(fmt.Sprintf("unknown user %s: %v", userID, err)), nil
		}
		if err := deps.Store.AddProgressNote(storage.ProgressNote{UserID: userID, Text: text}); err != nil {
			return mcpError(fmt.Sprintf("failed to save progress note: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Recorded progress for %s", userID)), nil
	}
}

func mcpResourceUsers(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids, err := deps.Store.ListUserIDs()
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		if ids == nil {
			ids = []string{}
		}

		b, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal user ids: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
