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

// RegisterBodyTools registers the message body and attachment tools with
// the MCP server.
func RegisterBodyTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	getEmailBodyTool := mcp.NewTool("get_email_body",
		mcp.WithDescription("Get the full body of an email message, converted to plain text by default"),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("The ID of the message to fetch"),
		),
		mcp.WithString("format",
			mcp.Description("Body format: 'text' converts HTML to plain text, 'html' returns the raw body (default: text)"),
		),
	)

	s.AddTool(getEmailBodyTool, common.InstrumentedToolHandler("get_email_body", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetEmailBody(ctx, request, sc)
	}))

	getEmailBodiesTool := mcp.NewTool("get_email_bodies",
		mcp.WithDescription("Get the bodies of multiple email messages in one provider round trip. Failures of individual messages do not fail the batch."),
		mcp.WithString("message_ids",
			mcp.Required(),
			mcp.Description("Message ID (string) or array of message IDs to fetch"),
		),
		mcp.WithString("format",
			mcp.Description("Body format: 'text' converts HTML to plain text, 'html' returns the raw body (default: text)"),
		),
	)

	s.AddTool(getEmailBodiesTool, common.InstrumentedToolHandler("get_email_bodies", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetEmailBodies(ctx, request, sc)
	}))

	listAttachmentsTool := mcp.NewTool("list_attachments",
		mcp.WithDescription("List attachment metadata of an email message without downloading content"),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("The ID of the message whose attachments to list"),
		),
	)

	s.AddTool(listAttachmentsTool, common.InstrumentedToolHandler("list_attachments", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListAttachments(ctx, request, sc)
	}))

	return nil
}

func handleGetEmailBody(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc, errResult := mailService(sc)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()

	messageID, ok := args["message_id"].(string)
	if !ok || messageID == "" {
		return mcp.NewToolResultError("message_id is required"), nil
	}
	format := stringArg(args, "format")

	body, err := svc.GetEmailBody(ctx, messageID, format)
	if err != nil {
		if errors.Is(err, mail.ErrInvalidFilterValue) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get email body: %v", err)), nil
	}

	return toolResultJSON(body)
}

func handleGetEmailBodies(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc, errResult := mailService(sc)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()

	messageIDs, err := batch.ParseStringOrArray(args["message_ids"], "message_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format := stringArg(args, "format")

	bodies, err := svc.GetEmailBodies(ctx, messageIDs, format)
	if err != nil {
		if errors.Is(err, mail.ErrInvalidFilterValue) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get email bodies: %v", err)), nil
	}

	return toolResultJSON(bodies)
}

func handleListAttachments(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc, errResult := mailService(sc)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()

	messageID, ok := args["message_id"].(string)
	if !ok || messageID == "" {
		return mcp.NewToolResultError("message_id is required"), nil
	}

	attachments, err := svc.ListAttachments(ctx, messageID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list attachments: %v", err)), nil
	}

	return toolResultJSON(attachments)
}
