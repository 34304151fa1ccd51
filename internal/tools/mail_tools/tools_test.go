package mail_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwieland/graphmail/internal/auth"
	"github.com/mwieland/graphmail/internal/cache"
	"github.com/mwieland/graphmail/internal/graph"
	"github.com/mwieland/graphmail/internal/mail"
	"github.com/mwieland/graphmail/internal/server"
)

type staticTokens struct{}

func (staticTokens) EnsureValid(ctx context.Context) (auth.Token, error) {
	return auth.Token{AccessToken: "test-token", Expiry: time.Now().Add(time.Hour)}, nil
}

// fakeProvider serves the subset of the Graph API the handlers touch:
// message search, conversation filter, single message lookup, attachment
// listing, and JSON batching.
func fakeProvider(t *testing.T) http.Handler {
	t.Helper()

	msg := func(id, from, subject string) map[string]interface{} {
		return map[string]interface{}{
			"id":               id,
			"subject":          subject,
			"from":             map[string]interface{}{"emailAddress": map[string]interface{}{"address": from}},
			"receivedDateTime": "2026-08-20T10:00:00Z",
			"conversationId":   "conv1",
			"bodyPreview":      "preview of " + id,
			"body":             map[string]interface{}{"contentType": "html", "content": "<p>Hello from " + id + "</p>"},
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/$batch", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Requests []struct {
				ID  string `json:"id"`
				URL string `json:"url"`
			} `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var responses []map[string]interface{}
		for _, sub := range req.Requests {
			if strings.Contains(sub.URL, "missing") {
				responses = append(responses, map[string]interface{}{
					"id":     sub.ID,
					"status": 404,
					"body":   map[string]interface{}{"error": map[string]interface{}{"code": "ErrorItemNotFound", "message": "not found"}},
				})
				continue
			}
			responses = append(responses, map[string]interface{}{
				"id":     sub.ID,
				"status": 200,
				"body":   msg("m1", "ana@example.com", "Report"),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"responses": responses}))
	})
	mux.HandleFunc("/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/me/messages/")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(rest, "/attachments"):
			require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
				"value": []map[string]interface{}{{
					"@odata.type": "#microsoft.graph.fileAttachment",
					"id":          "att1",
					"name":        "report.pdf",
					"size":        2048,
					"contentType": "application/pdf",
				}},
			}))
		case rest == "m1":
			require.NoError(t, json.NewEncoder(w).Encode(msg("m1", "ana@example.com", "Report")))
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":"ErrorItemNotFound","message":"not found"}}`)
		}
	})
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		if filter := query.Get("$filter"); strings.Contains(filter, "conv1") {
			require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
				"value": []map[string]interface{}{msg("m1", "ana@example.com", "Report"), msg("m2", "bob@example.com", "RE: Report")},
			}))
			return
		}
		if filter := query.Get("$filter"); filter != "" {
			require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"value": []map[string]interface{}{}}))
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"value": []map[string]interface{}{msg("m1", "ana@example.com", "Report")},
		}))
	})
	return mux
}

func newToolContext(t *testing.T) *server.ServerContext {
	t.Helper()

	srv := httptest.NewServer(fakeProvider(t))
	t.Cleanup(srv.Close)

	client := graph.NewClient(staticTokens{}, graph.Options{
		Endpoint: srv.URL,
		Timeout:  5 * time.Second,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := mail.NewService(client, cache.New(cache.Options{}), mail.DefaultConfig(), logger, nil)

	sc := server.NewServerContext(context.Background(), svc, nil, nil)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

func newRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	tc, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestRegisterMailTools(t *testing.T) {
	sc := newToolContext(t)
	mcpSrv := mcpserver.NewMCPServer("graphmail-test", "0.0.1")

	require.NoError(t, RegisterMailTools(mcpSrv, sc))
}

func TestHandleSearchEmails(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleSearchEmails(context.Background(), newRequest("search_emails", map[string]interface{}{
		"from": "ana@example.com",
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var summaries []mail.EmailSummary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "m1", summaries[0].ID)
	assert.Equal(t, "ana@example.com", summaries[0].From)
}

func TestHandleSearchEmailsRejectsUnknownField(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleSearchEmails(context.Background(), newRequest("search_emails", map[string]interface{}{
		"query": "report",
		"field": "attachment",
	}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleSearchEmailsWithoutService(t *testing.T) {
	sc := server.NewServerContext(context.Background(), nil, nil, nil)

	result, err := handleSearchEmails(context.Background(), newRequest("search_emails", nil), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetConversation(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleGetConversation(context.Background(), newRequest("get_conversation", map[string]interface{}{
		"conversation_id": "conv1",
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var conversation mail.Conversation
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &conversation))
	assert.Equal(t, "conv1", conversation.ConversationID)
	assert.Equal(t, 2, conversation.MessageCount)
}

func TestHandleGetConversationValidation(t *testing.T) {
	sc := newToolContext(t)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{name: "missing conversation_id", args: map[string]interface{}{}},
		{name: "empty conversation_id", args: map[string]interface{}{"conversation_id": ""}},
		{name: "injection attempt", args: map[string]interface{}{"conversation_id": "x' or 1 eq 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handleGetConversation(context.Background(), newRequest("get_conversation", tt.args), sc)
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestHandleGetConversationsBulk(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleGetConversationsBulk(context.Background(), newRequest("get_conversations_bulk", map[string]interface{}{
		"conversation_ids": []interface{}{"conv1", "conv2"},
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var bulk mail.BulkConversations
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &bulk))
	require.Len(t, bulk.Conversations, 2)
	assert.Equal(t, 2, bulk.Stats.Total)
	assert.Equal(t, 1, bulk.Stats.Successful)
	assert.Equal(t, 1, bulk.Stats.Failed)
}

func TestHandleGetConversationsBulkAcceptsJSONString(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleGetConversationsBulk(context.Background(), newRequest("get_conversations_bulk", map[string]interface{}{
		"conversation_ids": `["conv1"]`,
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var bulk mail.BulkConversations
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &bulk))
	assert.Equal(t, 1, bulk.Stats.Total)
}

func TestHandleGetConversationsBulkRequiresIDs(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleGetConversationsBulk(context.Background(), newRequest("get_conversations_bulk", map[string]interface{}{}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "conversation_ids is required")
}

func TestHandleGetEmailBody(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleGetEmailBody(context.Background(), newRequest("get_email_body", map[string]interface{}{
		"message_id": "m1",
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var body mail.EmailBody
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	assert.Equal(t, "m1", body.ID)
	assert.Equal(t, "text", body.Format)
	assert.Equal(t, "Hello from m1", body.Body)
}

func TestHandleGetEmailBodyValidation(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleGetEmailBody(context.Background(), newRequest("get_email_body", map[string]interface{}{}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = handleGetEmailBody(context.Background(), newRequest("get_email_body", map[string]interface{}{
		"message_id": "m1",
		"format":     "pdf",
	}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetEmailBodies(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleGetEmailBodies(context.Background(), newRequest("get_email_bodies", map[string]interface{}{
		"message_ids": []interface{}{"m1", "missing"},
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var bodies []mail.BodyResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &bodies))
	require.Len(t, bodies, 2)
	assert.Equal(t, "m1", bodies[0].MessageID)
	require.NotNil(t, bodies[0].Body)
	assert.Empty(t, bodies[0].Error)
	assert.Equal(t, "missing", bodies[1].MessageID)
	assert.NotEmpty(t, bodies[1].Error)
}

func TestHandleListAttachments(t *testing.T) {
	sc := newToolContext(t)

	result, err := handleListAttachments(context.Background(), newRequest("list_attachments", map[string]interface{}{
		"message_id": "m1",
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var attachments []mail.AttachmentInfo
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &attachments))
	require.Len(t, attachments, 1)
	assert.Equal(t, "report.pdf", attachments[0].Name)
	assert.Equal(t, "fileAttachment", attachments[0].Kind)
}

func TestHandleCacheTools(t *testing.T) {
	sc := newToolContext(t)

	// Populate the cache through a search.
	_, err := handleSearchEmails(context.Background(), newRequest("search_emails", map[string]interface{}{
		"query": "report",
	}), sc)
	require.NoError(t, err)

	result, err := handleCacheStats(context.Background(), newRequest("cache_stats", nil), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var stats struct {
		Total int `json:"total_entries"`
		Live  int `json:"live_entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Live)

	result, err = handleCacheClear(context.Background(), newRequest("cache_clear", nil), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "Cleared 1 cache entries", resultText(t, result))

	result, err = handleCacheStats(context.Background(), newRequest("cache_stats", nil), sc)
	require.NoError(t, err)
	var after struct {
		Total int `json:"total_entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &after))
	assert.Equal(t, 0, after.Total)
}
