package mail_tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mwieland/graphmail/internal/mail"
	"github.com/mwieland/graphmail/internal/server"
	"github.com/mwieland/graphmail/internal/tools/common"
)

// RegisterSearchTools registers the email search tool with the MCP server.
func RegisterSearchTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	searchTool := mcp.NewTool("search_emails",
		mcp.WithDescription("Search emails by text, sender, recipient, subject, and date range. Returns summaries sorted newest first."),
		mcp.WithString("query",
			mcp.Description("Free-text search term applied to the selected field"),
		),
		mcp.WithString("field",
			mcp.Description("Field the query targets: all, from, to, cc, subject, or body (default: all)"),
		),
		mcp.WithString("from",
			mcp.Description("Match messages whose sender address or name contains this value"),
		),
		mcp.WithString("to",
			mcp.Description("Match messages whose recipient addresses or names contain this value"),
		),
		mcp.WithString("subject",
			mcp.Description("Match messages whose subject contains this value"),
		),
		mcp.WithString("date_from",
			mcp.Description("Earliest received date, inclusive (YYYY-MM-DD)"),
		),
		mcp.WithString("date_to",
			mcp.Description("Latest received date, inclusive (YYYY-MM-DD)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (default: 50)"),
		),
	)

	s.AddTool(searchTool, common.InstrumentedToolHandler("search_emails", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleSearchEmails(ctx, request, sc)
	}))

	return nil
}

func handleSearchEmails(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc, errResult := mailService(sc)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()

	field := mail.FieldAll
	if fieldArg := stringArg(args, "field"); fieldArg != "" {
		var err error
		field, err = mail.ParseField(fieldArg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	q := mail.SearchQuery{
		Query:   stringArg(args, "query"),
		Field:   field,
		From:    stringArg(args, "from"),
		To:      stringArg(args, "to"),
		Subject: stringArg(args, "subject"),
		Since:   stringArg(args, "date_from"),
		Until:   stringArg(args, "date_to"),
		Limit:   intArg(args, "limit", 0),
	}

	summaries, err := svc.SearchEmails(ctx, q)
	if err != nil {
		if errors.Is(err, mail.ErrInvalidFilterValue) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to search emails: %v", err)), nil
	}

	return toolResultJSON(summaries)
}
