// Package mcp exposes the extraction pipeline over the Model Context
// Protocol: span extraction as a tool, cache observability and admin as
// tools, and the category taxonomy as a resource. Runs over stdio for
// editor and agent hosts.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/visioncue/visioncue/internal/cache"
	"github.com/visioncue/visioncue/internal/pipeline"
	"github.com/visioncue/visioncue/internal/span"
)

// ServerConfig holds the collaborators the MCP tools operate on.
type ServerConfig struct {
	Runner  *pipeline.Runner
	Cache   *cache.Cache // optional
	Version string
}

// NewServer creates a configured MCP server with all VisionCue tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"VisionCue",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractTool(s, cfg.Runner)
	registerCacheStatsTool(s, cfg.Cache)
	registerClearCacheTool(s, cfg.Cache)
	registerTaxonomyResource(s)

	return s
}

func registerExtractTool(s *server.MCPServer, runner *pipeline.Runner) {
	tool := mcp.NewTool("extract_spans",
		mcp.WithDescription("Extract visual control-point spans from a video-generation prompt. Returns labeled spans with byte offsets, taxonomy categories, confidence, and source provenance."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The prompt text to extract spans from"),
		),
		mcp.WithString("subject",
			mcp.Description("User-declared subject; matched at top priority"),
		),
		mcp.WithString("action",
			mcp.Description("User-declared action"),
		),
		mcp.WithString("location",
			mcp.Description("User-declared location"),
		),
		mcp.WithString("time",
			mcp.Description("User-declared time of day or era"),
		),
		mcp.WithString("style",
			mcp.Description("User-declared style"),
		),
		mcp.WithBoolean("no_model",
			mcp.Description("Skip the model stage; deterministic sources only (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		if strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text cannot be empty"), nil
		}

		opts := pipeline.Options{}
		if v, err := req.RequireString("subject"); err == nil {
			opts.Context.Subject = v
		}
		if v, err := req.RequireString("action"); err == nil {
			opts.Context.Action = v
		}
		if v, err := req.RequireString("location"); err == nil {
			opts.Context.Location = v
		}
		if v, err := req.RequireString("time"); err == nil {
			opts.Context.Time = v
		}
		if v, err := req.RequireString("style"); err == nil {
			opts.Context.Style = v
		}
		if v, err := req.RequireString("no_model"); err == nil && v == "true" {
			opts.DisableModel = true
		}

		res, err := runner.Run(ctx, text, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extraction error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(res, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerCacheStatsTool(s *server.MCPServer, c *cache.Cache) {
	tool := mcp.NewTool("cache_stats",
		mcp.WithDescription("Get result-cache statistics: entry count, hits, misses, evictions, and expirations."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if c == nil {
			return mcp.NewToolResultText("cache disabled"), nil
		}
		data, _ := json.MarshalIndent(c.Stats(), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerClearCacheTool(s *server.MCPServer, c *cache.Cache) {
	tool := mcp.NewTool("clear_cache",
		mcp.WithDescription("Wipe the result cache, in memory and in the durable store. Subsequent extractions recompute from scratch."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if c == nil {
			return mcp.NewToolResultText("cache disabled"), nil
		}
		c.Clear(ctx)
		return mcp.NewToolResultText("cache cleared"), nil
	})
}

func registerTaxonomyResource(s *server.MCPServer) {
	resource := mcp.NewResource(
		"visioncue://taxonomy",
		"Span Taxonomy",
		mcp.WithResourceDescription("The category taxonomy spans are labeled with: parent categories and their leaf attributes."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		taxonomy := map[string][]string{}
		for _, c := range span.Categories {
			parent := string(span.ParentOrDefault(c))
			if string(c) == parent {
				continue
			}
			taxonomy[parent] = append(taxonomy[parent], string(c))
		}

		data, _ := json.MarshalIndent(taxonomy, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
