package mail_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mwieland/graphmail/internal/server"
	"github.com/mwieland/graphmail/internal/tools/common"
)

// RegisterCacheTools registers the cache maintenance tools with the MCP
// server.
func RegisterCacheTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	cacheStatsTool := mcp.NewTool("cache_stats",
		mcp.WithDescription("Report response cache statistics: total, live, and expired entries"),
	)

	s.AddTool(cacheStatsTool, common.InstrumentedToolHandler("cache_stats", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleCacheStats(ctx, request, sc)
	}))

	cacheClearTool := mcp.NewTool("cache_clear",
		mcp.WithDescription("Clear the response cache and report how many entries were removed"),
	)

	s.AddTool(cacheClearTool, common.InstrumentedToolHandler("cache_clear", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleCacheClear(ctx, request, sc)
	}))

	return nil
}

func handleCacheStats(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc, errResult := mailService(sc)
	if errResult != nil {
		return errResult, nil
	}

	return toolResultJSON(svc.CacheStats())
}

func handleCacheClear(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc, errResult := mailService(sc)
	if errResult != nil {
		return errResult, nil
	}

	removed := svc.CacheClear()
	return mcp.NewToolResultText(fmt.Sprintf("Cleared %d cache entries", removed)), nil
}
