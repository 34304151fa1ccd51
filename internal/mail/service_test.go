package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwieland/graphmail/internal/auth"
	"github.com/mwieland/graphmail/internal/cache"
	"github.com/mwieland/graphmail/internal/graph"
)

type staticTokens struct{}

func (staticTokens) EnsureValid(ctx context.Context) (auth.Token, error) {
	return auth.Token{AccessToken: "test-token", Expiry: time.Now().Add(time.Hour)}, nil
}

func newTestService(t *testing.T, handler http.Handler) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := graph.NewClient(staticTokens{}, graph.Options{
		Endpoint: srv.URL,
		Timeout:  5 * time.Second,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(client, cache.New(cache.Options{}), DefaultConfig(), logger, nil)
	return svc, srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func testMessage(id, from, subject, received string) graph.Message {
	return graph.Message{
		ID:               id,
		Subject:          subject,
		From:             &graph.Recipient{EmailAddress: graph.EmailAddress{Address: from}},
		ReceivedDateTime: received,
		ConversationID:   "conv-" + id,
	}
}

func TestSearchEmailsCombinesFieldsWithAND(t *testing.T) {
	var providerCalls int32
	var gotSearch string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&providerCalls, 1)
		require.Equal(t, "/me/messages", r.URL.Path)
		gotSearch = r.URL.Query().Get("$search")
		writeJSON(t, w, graph.MessagePage{Value: []graph.Message{
			testMessage("m1", "jan@example.com", "invoice March", "2026-03-02T08:00:00Z"),
		}})
	})
	svc, _ := newTestService(t, handler)

	results, err := svc.SearchEmails(context.Background(), SearchQuery{
		From:    "jan@example.com",
		Subject: "invoice",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, `"from:jan@example.com" AND "subject:invoice"`, gotSearch)

	// An identical call inside the TTL window is served from the cache.
	again, err := svc.SearchEmails(context.Background(), SearchQuery{
		From:    "jan@example.com",
		Subject: "invoice",
	})
	require.NoError(t, err)
	assert.Equal(t, results, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&providerCalls))
}

func TestSearchEmailsClientSideFiltering(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, graph.MessagePage{Value: []graph.Message{
			testMessage("m1", "ana@example.com", "status", "2026-03-01T08:00:00Z"),
			testMessage("m2", "bob@example.com", "status", "2026-03-02T08:00:00Z"),
			testMessage("m3", "ana.maria@example.com", "status", "2026-03-03T08:00:00Z"),
		}})
	})
	svc, _ := newTestService(t, handler)

	results, err := svc.SearchEmails(context.Background(), SearchQuery{
		Query: "Ana",
		Field: FieldFrom,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m1", results[0].ID)
	assert.Equal(t, "m3", results[1].ID)
}

func TestSearchEmailsDateRange(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, graph.MessagePage{Value: []graph.Message{
			testMessage("early", "a@x.com", "s", "2026-02-01T08:00:00Z"),
			testMessage("inside", "a@x.com", "s", "2026-03-10T08:00:00Z"),
			testMessage("late", "a@x.com", "s", "2026-04-01T08:00:00Z"),
		}})
	})
	svc, _ := newTestService(t, handler)

	results, err := svc.SearchEmails(context.Background(), SearchQuery{
		Since: "2026-03-01",
		Until: "2026-03-31",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "inside", results[0].ID)
}

func TestSearchEmailsFollowsPaging(t *testing.T) {
	var srv *httptest.Server
	var pageCalls int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&pageCalls, 1)
		if n == 1 {
			writeJSON(t, w, graph.MessagePage{
				Value:    []graph.Message{testMessage("m1", "a@x.com", "s", "2026-03-02T08:00:00Z")},
				NextLink: srv.URL + "/me/messages?page=2",
			})
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeJSON(t, w, graph.MessagePage{
			Value: []graph.Message{testMessage("m2", "a@x.com", "s", "2026-03-01T08:00:00Z")},
		})
	})
	svc, s := newTestService(t, handler)
	srv = s

	results, err := svc.SearchEmails(context.Background(), SearchQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&pageCalls))
}

func TestSearchEmailsRejectsInjection(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("rejected input must never reach the provider")
	}))

	_, err := svc.SearchEmails(context.Background(), SearchQuery{
		Subject: `invoice" OR "from:ceo`,
	})
	assert.ErrorIs(t, err, ErrInvalidFilterValue)
}

func conversationHandler(t *testing.T, calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		filter := r.URL.Query().Get("$filter")

		switch {
		case strings.Contains(filter, "'conv1'"):
			m1 := testMessage("m1", "ana@example.com", "Re: kickoff", "2026-03-02T10:00:00Z")
			m1.ToRecipients = []graph.Recipient{{EmailAddress: graph.EmailAddress{Address: "bob@example.com"}}}
			m2 := testMessage("m2", "bob@example.com", "kickoff", "2026-03-01T09:00:00Z")
			m2.ToRecipients = []graph.Recipient{{EmailAddress: graph.EmailAddress{Address: "ana@example.com"}}}
			m2.Body = &graph.ItemBody{ContentType: "html", Content: "<p>see agenda</p>"}
			// Deliberately newest-first; the facade must re-sort.
			writeJSON(t, w, graph.MessagePage{Value: []graph.Message{m1, m2}})
		default:
			writeJSON(t, w, graph.MessagePage{})
		}
	}
}

func TestGetConversation(t *testing.T) {
	var calls int32
	svc, _ := newTestService(t, conversationHandler(t, &calls))

	conv, err := svc.GetConversation(context.Background(), "conv1", true)
	require.NoError(t, err)

	assert.Equal(t, "conv1", conv.ConversationID)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, "kickoff", conv.Subject, "subject comes from the oldest message")
	assert.Equal(t, []string{"ana@example.com", "bob@example.com"}, conv.Participants)
	assert.Equal(t, "2026-03-01 to 2026-03-02", conv.DateRange)

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, 1, conv.Messages[0].Position)
	assert.Equal(t, "m2", conv.Messages[0].ID)
	assert.Equal(t, "see agenda", conv.Messages[0].Body, "html body converted to text")
	assert.Equal(t, 2, conv.Messages[1].Position)
	assert.Equal(t, "m1", conv.Messages[1].ID)
}

func TestGetConversationCached(t *testing.T) {
	var calls int32
	svc, _ := newTestService(t, conversationHandler(t, &calls))

	_, err := svc.GetConversation(context.Background(), "conv1", true)
	require.NoError(t, err)
	_, err = svc.GetConversation(context.Background(), "conv1", true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A different include_body flag is a different cache entry.
	_, err = svc.GetConversation(context.Background(), "conv1", false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetConversationInvalidID(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("malformed IDs must never reach the provider")
	}))

	_, err := svc.GetConversation(context.Background(), "x' or 1 eq 1", true)
	assert.ErrorIs(t, err, ErrInvalidFilterValue)
}

func TestGetConversationNotFound(t *testing.T) {
	var calls int32
	svc, _ := newTestService(t, conversationHandler(t, &calls))

	_, err := svc.GetConversation(context.Background(), "missing", true)
	require.Error(t, err)
	assert.Equal(t, graph.KindNotFound, graph.KindOf(err))

	// Failures are never cached; a retry issues a fresh provider call.
	_, err = svc.GetConversation(context.Background(), "missing", true)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetConversationsBulk(t *testing.T) {
	var calls int32
	svc, _ := newTestService(t, conversationHandler(t, &calls))

	ids := []string{"conv1", "missing", "conv1", "bad'id"}
	out, err := svc.GetConversationsBulk(context.Background(), ids, false)
	require.NoError(t, err)

	// Duplicates collapse order-preserving: conv1, missing, bad'id.
	require.Len(t, out.Conversations, 3)
	assert.Equal(t, "conv1", out.Conversations[0].ConversationID)
	assert.NotNil(t, out.Conversations[0].Conversation)
	assert.Empty(t, out.Conversations[0].Error)

	assert.Equal(t, "missing", out.Conversations[1].ConversationID)
	assert.Nil(t, out.Conversations[1].Conversation)
	assert.NotEmpty(t, out.Conversations[1].Error)

	assert.Equal(t, "bad'id", out.Conversations[2].ConversationID)
	assert.NotEmpty(t, out.Conversations[2].Error)

	assert.Equal(t, 3, out.Stats.Total)
	assert.Equal(t, 1, out.Stats.Successful)
	assert.Equal(t, 2, out.Stats.Failed)
}

func TestGetConversationsBulkEmptyInput(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no provider call expected")
	}))

	out, err := svc.GetConversationsBulk(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Empty(t, out.Conversations)
	assert.Equal(t, 0, out.Stats.Total)
}

func TestGetEmailBody(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "/me/messages/m1", r.URL.Path)
		msg := testMessage("m1", "ana@example.com", "hello", "2026-03-01T09:00:00Z")
		msg.Body = &graph.ItemBody{ContentType: "html", Content: "<p>line one</p><p>line two</p>"}
		writeJSON(t, w, msg)
	})
	svc, _ := newTestService(t, handler)

	text, err := svc.GetEmailBody(context.Background(), "m1", "text")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", text.Body)
	assert.Equal(t, FormatText, text.Format)

	// Same ID and format hits the cache.
	_, err = svc.GetEmailBody(context.Background(), "m1", "text")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A different format is a separate entry and keeps the raw HTML.
	html, err := svc.GetEmailBody(context.Background(), "m1", "html")
	require.NoError(t, err)
	assert.Equal(t, "<p>line one</p><p>line two</p>", html.Body)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetEmailBodyInvalidFormat(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no provider call expected")
	}))

	_, err := svc.GetEmailBody(context.Background(), "m1", "pdf")
	assert.ErrorIs(t, err, ErrInvalidFilterValue)
}

func TestGetEmailBodies(t *testing.T) {
	var batchCalls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/$batch", r.URL.Path)
		atomic.AddInt32(&batchCalls, 1)

		var payload struct {
			Requests []graph.BatchRequest `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Requests, 2)

		responses := make([]map[string]any, 0, len(payload.Requests))
		// Answer in reverse order; correlation is by ID, not position.
		for i := len(payload.Requests) - 1; i >= 0; i-- {
			req := payload.Requests[i]
			switch {
			case strings.Contains(req.URL, "missing"):
				responses = append(responses, map[string]any{
					"id":     req.ID,
					"status": 404,
					"body":   map[string]any{"error": map[string]any{"code": "ErrorItemNotFound", "message": "not found"}},
				})
			default:
				msg := testMessage("m2", "bob@example.com", "second", "2026-03-02T09:00:00Z")
				msg.Body = &graph.ItemBody{ContentType: "text", Content: "plain content"}
				responses = append(responses, map[string]any{
					"id":     req.ID,
					"status": 200,
					"body":   msg,
				})
			}
		}
		writeJSON(t, w, map[string]any{"responses": responses})
	})
	svc, _ := newTestService(t, handler)

	// Pre-populate one body so only the misses go to the batch endpoint.
	cachedBody := EmailBody{ID: "m1", Body: "cached content", Format: FormatText}
	svc.cache.Set(bodyKey("m1", FormatText), &cachedBody, time.Minute)

	results, err := svc.GetEmailBodies(context.Background(), []string{"m1", "m2", "missing", "m2"}, "text")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "m1", results[0].MessageID)
	require.NotNil(t, results[0].Body)
	assert.Equal(t, "cached content", results[0].Body.Body)

	assert.Equal(t, "m2", results[1].MessageID)
	require.NotNil(t, results[1].Body)
	assert.Equal(t, "plain content", results[1].Body.Body)

	assert.Equal(t, "missing", results[2].MessageID)
	assert.Nil(t, results[2].Body)
	assert.Contains(t, results[2].Error, "not_found")

	assert.Equal(t, int32(1), atomic.LoadInt32(&batchCalls))

	// The batch result landed in the cache for later single lookups.
	fetched, err := svc.GetEmailBody(context.Background(), "m2", "text")
	require.NoError(t, err)
	assert.Equal(t, "plain content", fetched.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&batchCalls))
}

func TestListAttachments(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "/me/messages/m1/attachments", r.URL.Path)
		writeJSON(t, w, graph.AttachmentPage{Value: []graph.Attachment{
			{
				ODataType:   "#microsoft.graph.fileAttachment",
				ID:          "att1",
				Name:        "report.pdf",
				ContentType: "application/pdf",
				Size:        4096,
			},
		}})
	})
	svc, _ := newTestService(t, handler)

	atts, err := svc.ListAttachments(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "report.pdf", atts[0].Name)
	assert.Equal(t, "fileAttachment", atts[0].Kind)

	_, err = svc.ListAttachments(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCacheStatsAndClear(t *testing.T) {
	var calls int32
	svc, _ := newTestService(t, conversationHandler(t, &calls))

	_, err := svc.GetConversation(context.Background(), "conv1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.CacheStats().Total)

	assert.Equal(t, 1, svc.CacheClear())
	assert.Equal(t, 0, svc.CacheStats().Total)

	// After clearing, the next call goes back to the provider.
	_, err = svc.GetConversation(context.Background(), "conv1", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetProfile(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me", r.URL.Path)
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"u1","displayName":"Jan Mustermann","mail":"jan@example.com","userPrincipalName":"jan@example.com"}`)
	})
	svc, _ := newTestService(t, handler)

	profile, err := svc.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Jan Mustermann", profile.DisplayName)
	assert.Equal(t, "jan@example.com", profile.Mail)

	// Cached on the second call.
	_, err = svc.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProviderErrorsCarryKind(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"ErrorAccessDenied","message":"Access is denied."}}`)
	})
	svc, _ := newTestService(t, handler)

	_, err := svc.ListAttachments(context.Background(), "m1")
	require.Error(t, err)
	assert.Equal(t, graph.KindForbidden, graph.KindOf(err))
	assert.Contains(t, err.Error(), "ErrorAccessDenied")
}
