package mail_tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mwieland/graphmail/internal/mail"
	"github.com/mwieland/graphmail/internal/server"
	"github.com/mwieland/graphmail/internal/tools/batch"
	"github.com/mwieland/graphmail/internal/tools/common"
)

// RegisterConversationTools registers the single and bulk conversation
// tools with the MCP server.
func RegisterConversationTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	getConversationTool := mcp.NewTool("get_conversation",
		mcp.WithDescription("Get all messages of an email conversation in chronological order"),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("The conversation ID shared by the messages of the thread"),
		),
		mcp.WithBoolean("include_body",
			mcp.Description("Include the full text body of each message (default: false)"),
		),
	)

	s.AddTool(getConversationTool, common.InstrumentedToolHandler("get_conversation", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetConversation(ctx, request, sc)
	}))

	getConversationsBulkTool := mcp.NewTool("get_conversations_bulk",
		mcp.WithDescription("Get multiple email conversations concurrently. Failures of individual conversations do not fail the batch."),
		mcp.WithString("conversation_ids",
			mcp.Required(),
			mcp.Description("Conversation ID (string) or array of conversation IDs to fetch"),
		),
		mcp.WithBoolean("include_body",
			mcp.Description("Include the full text body of each message (default: false)"),
		),
	)

	s.AddTool(getConversationsBulkTool, common.InstrumentedToolHandler("get_conversations_bulk", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetConversationsBulk(ctx, request, sc)
	}))

	return nil
}

func handleGetConversation(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc, errResult := mailService(sc)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()

	conversationID, ok := args["conversation_id"].(string)
	if !ok || conversationID == "" {
		return mcp.NewToolResultError("conversation_id is required"), nil
	}
	includeBody := boolArg(args, "include_body", false)

	conversation, err := svc.GetConversation(ctx, conversationID, includeBody)
	if err != nil {
		if errors.Is(err, mail.ErrInvalidFilterValue) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get conversation: %v", err)), nil
	}

	return toolResultJSON(conversation)
}

func handleGetConversationsBulk(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc, errResult := mailService(sc)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()

	conversationIDs, err := batch.ParseStringOrArray(args["conversation_ids"], "conversation_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	includeBody := boolArg(args, "include_body", false)

	result, err := svc.GetConversationsBulk(ctx, conversationIDs, includeBody)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get conversations: %v", err)), nil
	}

	return toolResultJSON(result)
}
