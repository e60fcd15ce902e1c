package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/devhq/devy/internal/careers"
	"github.com/devhq/devy/internal/storage"
	"github.com/devhq/devy/internal/validation"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
}

// NewMCPServer creates an MCP server exposing read-only advisor tools
// for operator tooling and AI assistants.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"devy",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("devy — career advisor data: sessions, conversation history, users, and completed career assessments."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("get-assessment",
			mcp.WithDescription("Fetch the completed career assessment for a session, if one exists."),
			mcp.WithString("session_id", mcp.Description("Session token (UUID)"), mcp.Required()),
		),
		mcpGetAssessment(deps),
	)

	s.AddTool(
		mcp.NewTool("session-history",
			mcp.WithDescription("Return the full conversation history of a session in chronological order."),
			mcp.WithString("session_id", mcp.Description("Session token (UUID)"), mcp.Required()),
		),
		mcpSessionHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("get-user",
			mcp.WithDescription("Look up a user profile by exact name."),
			mcp.WithString("name", mcp.Description("User name as collected during conversation"), mcp.Required()),
		),
		mcpGetUser(deps),
	)

	s.AddTool(
		mcp.NewTool("list-careers",
			mcp.WithDescription("List the supported career paths with descriptions and match score bands."),
		),
		mcpListCareers(),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"devy://careers",
			"Career Catalog",
			mcp.WithResourceDescription("Supported career paths and score bands as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCareers(),
	)

	return s
}

func mcpGetAssessment(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		if !validation.ValidSessionToken(sessionID) {
			return mcpError("session_id is not a valid session token"), nil
		}

		a, err := deps.Store.GetAssessmentBySession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError("no assessment exists for this session"), nil
			}
			return mcpError(fmt.Sprintf("failed to load assessment: %v", err)), nil
		}

		return mcpText(a.Payload), nil
	}
}

func mcpSessionHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		if !validation.ValidSessionToken(sessionID) {
			return mcpError("session_id is not a valid session token"), nil
		}

		msgs, err := deps.Store.SessionMessages(ctx, sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}

		type messageResult struct {
			Sender    string `json:"sender"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at"`
		}

		results := make([]messageResult, len(msgs))
		for i, m := range msgs {
			results[i] = messageResult{
				Sender:    m.Sender,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpGetUser(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		u, err := deps.Store.GetUserByName(ctx, name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("no user named %q", name)), nil
			}
			return mcpError(fmt.Sprintf("failed to load user: %v", err)), nil
		}

		var topSubjects []string
		if err := json.Unmarshal([]byte(u.TopSubjects), &topSubjects); err != nil {
			topSubjects = nil
		}

		b, err := json.Marshal(map[string]any{
			"id":                  u.ID,
			"name":                u.Name,
			"age":                 u.Age,
			"education_level":     u.EducationLevel,
			"technical_knowledge": u.TechnicalKnowledge,
			"top_subjects":        topSubjects,
			"subject_aspects":     u.SubjectAspects,
			"interests_dreams":    u.InterestsDreams,
			"created_at":          u.CreatedAt.Format(time.RFC3339),
			"updated_at":          u.UpdatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal user: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpListCareers() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := careerCatalogJSON()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal careers: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceCareers() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := careerCatalogJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal careers: %w", err)
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

func careerCatalogJSON() ([]byte, error) {
	type careerResult struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}

	paths := make([]careerResult, 0, careers.Count())
	for _, name := range careers.Paths {
		paths = append(paths, careerResult{
			Name:        name,
			Description: careers.Descriptions[name],
		})
	}

	return json.Marshal(map[string]any{
		"career_paths": paths,
		"score_bands":  careers.ScoreBands,
	})
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
