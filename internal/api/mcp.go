package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vignette/internal/generator"
	"github.com/kalambet/vignette/internal/output"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Generator     Generator
	OutputDir     string
	GameStatePath string
	CrewPath      string
}

// NewMCPServer creates an MCP server exposing the vignette library, cycle
// generation and the shared game state.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"vignette",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vignette: story vignettes generated from a Pillars of Eternity II playthrough. List and read past scenes, generate a new one, or continue a scene in a direction you choose."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_vignettes",
			mcp.WithDescription("List saved vignettes, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListVignettes(deps),
	)

	s.AddTool(
		mcp.NewTool("read_vignette",
			mcp.WithDescription("Read one saved vignette as Markdown."),
			mcp.WithString("name", mcp.Description("Vignette file name, as returned by list_vignettes"), mcp.Required()),
		),
		mcpReadVignette(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_vignette",
			mcp.WithDescription("Run a full generation cycle now: write a new vignette, update the narrative log and crew details."),
		),
		mcpGenerateVignette(deps),
	)

	s.AddTool(
		mcp.NewTool("continue_scene",
			mcp.WithDescription("Write an interactive continuation of a saved vignette. Does not change the game state."),
			mcp.WithString("name", mcp.Description("Vignette file name to continue"), mcp.Required()),
			mcp.WithString("direction", mcp.Description("What the party does next"), mcp.Required()),
		),
		mcpContinueScene(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"game://state",
			"Game State",
			mcp.WithResourceDescription("Current gameState.json: party, locations, combat and narrative log"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFile(deps.GameStatePath),
	)

	s.AddResource(
		mcp.NewResource(
			"game://crew",
			"Crew Details",
			mcp.WithResourceDescription("Current crew_details.json"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFile(deps.CrewPath),
	)

	return s
}

func mcpListVignettes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		vs, err := output.ListVignettes(deps.OutputDir)
		if err != nil {
			return mcpError(fmt.Sprintf("listing vignettes failed: %v", err)), nil
		}
		if len(vs) > limit {
			vs = vs[:limit]
		}

		type vignetteSummary struct {
			Name        string `json:"name"`
			Generated   string `json:"generated"`
			Theme       string `json:"theme"`
			Interactive bool   `json:"interactive"`
			Excerpt     string `json:"excerpt"`
		}
		results := make([]vignetteSummary, len(vs))
		for i, v := range vs {
			excerpt := output.Body(v.Content)
			if utf8.RuneCountInString(excerpt) > 200 {
				excerpt = string([]rune(excerpt)[:200]) + "..."
			}
			generated := v.Metadata.Generated
			if generated == "" {
				generated = v.ModTime.Format(time.RFC3339)
			}
			results[i] = vignetteSummary{
				Name:        v.Name,
				Generated:   generated,
				Theme:       v.Metadata.Theme,
				Interactive: v.Interactive,
				Excerpt:     excerpt,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReadVignette(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		v, err := output.ReadVignette(deps.OutputDir, name)
		switch {
		case errors.Is(err, output.ErrUnsafeName):
			return mcpError("invalid vignette name"), nil
		case errors.Is(err, fs.ErrNotExist):
			return mcpError(fmt.Sprintf("vignette %q not found", name)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("reading vignette failed: %v", err)), nil
		}
		return mcpText(v.Content), nil
	}
}

func mcpGenerateVignette(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := deps.Generator.RunCycle(ctx, generator.TriggerManual, "mcp request")
		if errors.Is(err, generator.ErrBusy) {
			return mcpError("a generation cycle is already running; try again shortly"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Generated %s\n\n%s", filepathBase(out.Artifacts.VignettePath), out.Result.Vignette)), nil
	}
}

func mcpContinueScene(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		direction, err := req.RequireString("direction")
		if err != nil {
			return mcpError("direction is required"), nil
		}
		if !output.SafeName(name) {
			return mcpError("invalid vignette name"), nil
		}

		art, cont, err := deps.Generator.Continue(ctx, generator.ContinueRequest{BaseName: name, UserMessage: direction})
		if errors.Is(err, fs.ErrNotExist) {
			return mcpError(fmt.Sprintf("vignette %q not found", name)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("continuation failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Saved %s\n\n%s", filepathBase(art.VignettePath), cont.Vignette)), nil
	}
}

func mcpResourceFile(path string) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			b = []byte("{}")
		} else if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", req.Params.URI, err)
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
