package mail_tools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mwieland/graphmail/internal/mail"
	"github.com/mwieland/graphmail/internal/server"
)

// RegisterMailTools registers all mail-related tools with the MCP server.
func RegisterMailTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if err := RegisterSearchTools(s, sc); err != nil {
		return fmt.Errorf("failed to register search tools: %w", err)
	}

	if err := RegisterConversationTools(s, sc); err != nil {
		return fmt.Errorf("failed to register conversation tools: %w", err)
	}

	if err := RegisterBodyTools(s, sc); err != nil {
		return fmt.Errorf("failed to register body tools: %w", err)
	}

	if err := RegisterCacheTools(s, sc); err != nil {
		return fmt.Errorf("failed to register cache tools: %w", err)
	}

	return nil
}

// mailService returns the facade from the server context, or an error
// result when the server has not finished initializing.
func mailService(sc *server.ServerContext) (*mail.Service, *mcp.CallToolResult) {
	svc := sc.MailService()
	if svc == nil {
		return nil, mcp.NewToolResultError("mail service is not initialized")
	}
	return svc, nil
}

// toolResultJSON marshals v as indented JSON for the tool response.
func toolResultJSON(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func stringArg(args map[string]interface{}, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]interface{}, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}

func intArg(args map[string]interface{}, name string, def int) int {
	if v, ok := args[name].(float64); ok {
		return int(v)
	}
	return def
}
