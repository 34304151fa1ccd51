package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mwieland/graphmail/internal/server"
)

// RegisterUserResources registers resources describing the current session:
// the authenticated mailbox owner and the state of the response cache.
func RegisterUserResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	profileResource := mcp.NewResource(
		"user://profile",
		"Current User Profile",
		mcp.WithResourceDescription("Information about the currently authenticated Microsoft 365 account"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(profileResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleUserProfile(ctx, request, sc)
	})

	cacheResource := mcp.NewResource(
		"cache://stats",
		"Response Cache Statistics",
		mcp.WithResourceDescription("Counters of the response cache: total, live, and expired entries"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(cacheResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleCacheStats(ctx, request, sc)
	})

	return nil
}

func handleUserProfile(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	svc := sc.MailService()
	if svc == nil {
		return nil, fmt.Errorf("mail service is not initialized")
	}

	profile, err := svc.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	jsonData, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode user profile: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}

func handleCacheStats(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	svc := sc.MailService()
	if svc == nil {
		return nil, fmt.Errorf("mail service is not initialized")
	}

	jsonData, err := json.MarshalIndent(svc.CacheStats(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache stats: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
