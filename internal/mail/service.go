// Package mail implements the provider-facing mail operations: search,
// conversation retrieval (single and bulk), body extraction, and
// attachment listing. Every operation validates its token, sanitizes
// caller input, and answers from the response cache when possible.
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mwieland/graphmail/internal/cache"
	"github.com/mwieland/graphmail/internal/fetch"
	"github.com/mwieland/graphmail/internal/graph"
	"github.com/mwieland/graphmail/internal/instrumentation"
	"github.com/mwieland/graphmail/internal/logging"
)

// Body formats accepted by GetEmailBody.
const (
	FormatText = "text"
	FormatHTML = "html"
)

// Per-operation cache retention defaults.
const (
	DefaultSearchTTL       = 2 * time.Minute
	DefaultConversationTTL = 5 * time.Minute
	DefaultBodyTTL         = time.Hour
	DefaultAttachmentsTTL  = time.Hour
)

const (
	defaultSearchLimit = 50
	maxPageSize        = 50
	// Server-side search is approximate; overfetching leaves room for
	// the exact client-side filter pass.
	overfetchFactor = 3

	summarySelect      = "id,subject,from,toRecipients,ccRecipients,receivedDateTime,bodyPreview,hasAttachments,conversationId,importance"
	bodySelect         = "id,subject,from,toRecipients,ccRecipients,receivedDateTime,body,hasAttachments,conversationId"
	conversationSelect = "id,subject,from,toRecipients,receivedDateTime,bodyPreview,body"
)

// Config carries the facade's tunables. Zero values fall back to the
// documented defaults.
type Config struct {
	SearchTTL         time.Duration
	ConversationTTL   time.Duration
	BodyTTL           time.Duration
	AttachmentsTTL    time.Duration
	MaxParallel       int
	PerRequestTimeout time.Duration
}

// DefaultConfig returns the standard facade configuration.
func DefaultConfig() Config {
	return Config{
		SearchTTL:       DefaultSearchTTL,
		ConversationTTL: DefaultConversationTTL,
		BodyTTL:         DefaultBodyTTL,
		AttachmentsTTL:  DefaultAttachmentsTTL,
		MaxParallel:     fetch.DefaultMaxParallel,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SearchTTL <= 0 {
		c.SearchTTL = d.SearchTTL
	}
	if c.ConversationTTL <= 0 {
		c.ConversationTTL = d.ConversationTTL
	}
	if c.BodyTTL <= 0 {
		c.BodyTTL = d.BodyTTL
	}
	if c.AttachmentsTTL <= 0 {
		c.AttachmentsTTL = d.AttachmentsTTL
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	return c
}

// SearchQuery is the input to SearchEmails. All fields are optional; an
// empty query lists the most recent messages.
type SearchQuery struct {
	Query   string
	Field   Field
	From    string
	To      string
	Subject string
	Since   string // YYYY-MM-DD, inclusive
	Until   string // YYYY-MM-DD, inclusive
	Limit   int
}

// Service is the mail operations facade. It owns the response cache and
// issues provider requests through the Graph client.
type Service struct {
	client  *graph.Client
	cache   *cache.Cache
	cfg     Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewService wires a facade from its collaborators. metrics may be nil.
func NewService(client *graph.Client, store *cache.Cache, cfg Config, logger *slog.Logger, metrics *instrumentation.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = cache.New(cache.Options{})
	}
	return &Service{
		client:  client,
		cache:   store,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// SearchEmails runs a provider search and applies exact client-side
// filtering on top. Results are capped at q.Limit and cached.
func (s *Service) SearchEmails(ctx context.Context, q SearchQuery) ([]EmailSummary, error) {
	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}
	if q.Field == "" {
		q.Field = FieldAll
	}

	searchExpr, err := buildSearchExpression(q)
	if err != nil {
		return nil, err
	}

	key := cache.NewKey("search", map[string]string{
		"query":   cache.Fold(q.Query),
		"field":   string(q.Field),
		"from":    cache.Fold(q.From),
		"to":      cache.Fold(q.To),
		"subject": cache.Fold(q.Subject),
		"since":   q.Since,
		"until":   q.Until,
		"limit":   strconv.Itoa(q.Limit),
	})

	return cached(ctx, s, "search", key, s.cfg.SearchTTL, func() ([]EmailSummary, error) {
		return s.searchProvider(ctx, q, searchExpr)
	})
}

func buildSearchExpression(q SearchQuery) (string, error) {
	var terms []string
	if strings.TrimSpace(q.Query) != "" {
		term, err := BuildSearchTerm(q.Field, q.Query)
		if err != nil {
			return "", err
		}
		terms = append(terms, term)
	}
	for _, extra := range []struct {
		field Field
		value string
	}{
		{FieldFrom, q.From},
		{FieldTo, q.To},
		{FieldSubject, q.Subject},
	} {
		if strings.TrimSpace(extra.value) == "" {
			continue
		}
		term, err := BuildSearchTerm(extra.field, extra.value)
		if err != nil {
			return "", err
		}
		terms = append(terms, term)
	}
	return CombineSearch(terms), nil
}

func (s *Service) searchProvider(ctx context.Context, q SearchQuery, searchExpr string) ([]EmailSummary, error) {
	params := url.Values{}
	pageSize := q.Limit
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	params.Set("$top", strconv.Itoa(pageSize))
	params.Set("$select", summarySelect)
	if searchExpr != "" {
		params.Set("$search", searchExpr)
	} else {
		// $orderby is incompatible with $search; results are already
		// relevance-ordered in that case.
		params.Set("$orderby", "receivedDateTime desc")
	}

	fetchLimit := q.Limit * overfetchFactor
	var all []graph.Message
	path := "/me/messages"

	for path != "" && len(all) < fetchLimit {
		var page graph.MessagePage
		if err := s.getJSON(ctx, "search", path, params, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
		path = page.NextLink
		params = nil
	}

	filtered := make([]EmailSummary, 0, q.Limit)
	for _, msg := range all {
		if !matchesQuery(msg, q) {
			continue
		}
		filtered = append(filtered, summaryFromMessage(msg))
		if len(filtered) >= q.Limit {
			break
		}
	}
	return filtered, nil
}

// matchesQuery applies the exact filters the provider search only
// approximates: substring matching per field plus the date range.
func matchesQuery(msg graph.Message, q SearchQuery) bool {
	if query := strings.ToLower(strings.TrimSpace(q.Query)); query != "" {
		from, _ := fromAddress(msg)
		from = strings.ToLower(from)
		subject := strings.ToLower(msg.Subject)
		to := lowered(recipientAddresses(msg.ToRecipients))
		cc := lowered(recipientAddresses(msg.CcRecipients))

		switch q.Field {
		case FieldFrom:
			if !strings.Contains(from, query) {
				return false
			}
		case FieldTo:
			if !containsSubstring(to, query) {
				return false
			}
		case FieldCc:
			if !containsSubstring(cc, query) {
				return false
			}
		case FieldSubject:
			if !strings.Contains(subject, query) {
				return false
			}
		case FieldAll:
			if !strings.Contains(from, query) &&
				!containsSubstring(to, query) &&
				!containsSubstring(cc, query) &&
				!strings.Contains(subject, query) {
				return false
			}
		}
	}

	date := dateOf(msg.ReceivedDateTime)
	if q.Since != "" && date < q.Since {
		return false
	}
	if q.Until != "" && date > q.Until {
		return false
	}
	return true
}

func lowered(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

func containsSubstring(values []string, sub string) bool {
	for _, v := range values {
		if strings.Contains(v, sub) {
			return true
		}
	}
	return false
}

// GetConversation returns all messages of a thread in received order,
// with participants and date range aggregated.
func (s *Service) GetConversation(ctx context.Context, conversationID string, includeBody bool) (*Conversation, error) {
	filter, err := ConversationFilter(conversationID)
	if err != nil {
		return nil, err
	}

	key := cache.NewKey("conversation", map[string]string{
		"id":           conversationID,
		"include_body": strconv.FormatBool(includeBody),
	})

	return cached(ctx, s, "conversation", key, s.cfg.ConversationTTL, func() (*Conversation, error) {
		params := url.Values{}
		params.Set("$filter", filter)
		params.Set("$select", conversationSelect)
		params.Set("$top", "100")

		var page graph.MessagePage
		if err := s.getJSON(ctx, "conversation", "/me/messages", params, &page); err != nil {
			return nil, err
		}
		if len(page.Value) == 0 {
			return nil, graph.NewNotFound("conversation has no messages")
		}

		messages := page.Value
		// The provider rejects $orderby combined with this $filter.
		sort.SliceStable(messages, func(i, j int) bool {
			return messages[i].ReceivedDateTime < messages[j].ReceivedDateTime
		})

		participants := make(map[string]struct{})
		var dates []string
		formatted := make([]ConversationMessage, 0, len(messages))
		for i, msg := range messages {
			if addr, _ := fromAddress(msg); addr != "" {
				participants[addr] = struct{}{}
			}
			for _, addr := range recipientAddresses(msg.ToRecipients) {
				if addr != "" {
					participants[addr] = struct{}{}
				}
			}
			if msg.ReceivedDateTime != "" {
				dates = append(dates, dateOf(msg.ReceivedDateTime))
			}
			formatted = append(formatted, conversationMessage(msg, i+1, includeBody))
		}

		names := make([]string, 0, len(participants))
		for p := range participants {
			names = append(names, p)
		}
		sort.Strings(names)

		var dateRange string
		if len(dates) > 0 {
			sort.Strings(dates)
			dateRange = dates[0] + " to " + dates[len(dates)-1]
		}

		return &Conversation{
			ConversationID: conversationID,
			Subject:        messages[0].Subject,
			Participants:   names,
			MessageCount:   len(messages),
			DateRange:      dateRange,
			Messages:       formatted,
		}, nil
	})
}

// GetConversationsBulk retrieves several threads concurrently. The result
// holds one entry per unique input ID, in input order; per-item failures
// are annotated, never dropped, and never fail the batch.
func (s *Service) GetConversationsBulk(ctx context.Context, conversationIDs []string, includeBody bool) (*BulkConversations, error) {
	unique := dedupe(conversationIDs)
	if len(unique) == 0 {
		return &BulkConversations{Conversations: []ConversationResult{}}, nil
	}

	reqs := make([]fetch.Request, len(unique))
	for i, id := range unique {
		reqs[i] = fetch.Request{ID: id, Kind: fetch.KindConversation}
	}

	start := time.Now()
	results, err := fetch.All(ctx, reqs, fetch.Options{
		MaxParallel:       s.cfg.MaxParallel,
		PerRequestTimeout: s.cfg.PerRequestTimeout,
	}, func(ctx context.Context, req fetch.Request) (*Conversation, error) {
		return s.GetConversation(ctx, req.ID, includeBody)
	})
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	out := &BulkConversations{
		Conversations: make([]ConversationResult, 0, len(results)),
		Stats: BulkStats{
			Total:     len(unique),
			ElapsedMS: elapsed.Milliseconds(),
		},
	}
	for _, r := range results {
		item := ConversationResult{ConversationID: r.Request.ID}
		if r.OK() {
			item.Conversation = r.Value
			out.Stats.Successful++
		} else {
			item.Error = r.Err.Error()
			out.Stats.Failed++
		}
		out.Conversations = append(out.Conversations, item)
	}

	s.logger.Info("bulk conversation fetch finished",
		logging.Operation("get_conversations_bulk"),
		slog.Int("total", out.Stats.Total),
		slog.Int("failed", out.Stats.Failed),
		logging.Duration(elapsed))
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GetEmailBody returns a message's full body, converted to plain text
// when format is "text" and the stored body is HTML.
func (s *Service) GetEmailBody(ctx context.Context, messageID, format string) (*EmailBody, error) {
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, fmt.Errorf("%w: empty message id", ErrInvalidFilterValue)
	}

	key := bodyKey(messageID, format)

	return cached(ctx, s, "email_body", key, s.cfg.BodyTTL, func() (*EmailBody, error) {
		params := url.Values{}
		params.Set("$select", bodySelect)

		var msg graph.Message
		path := "/me/messages/" + url.PathEscape(messageID)
		if err := s.getJSON(ctx, "email_body", path, params, &msg); err != nil {
			return nil, err
		}
		body := bodyFromMessage(msg, format)
		return &body, nil
	})
}

// GetEmailBodies retrieves several message bodies through the provider's
// batch endpoint. Cached bodies are answered locally; only misses go out.
// One result per unique input ID, in input order.
func (s *Service) GetEmailBodies(ctx context.Context, messageIDs []string, format string) ([]BodyResult, error) {
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}

	unique := dedupe(messageIDs)
	results := make([]BodyResult, len(unique))
	var missing []int

	for i, id := range unique {
		results[i] = BodyResult{MessageID: id}
		if id == "" {
			results[i].Error = "empty message id"
			continue
		}
		key := bodyKey(id, format)
		if v, ok := s.cache.Get(key); ok {
			s.recordCacheLookup(ctx, "email_body", true)
			results[i].Body = v.(*EmailBody)
			continue
		}
		s.recordCacheLookup(ctx, "email_body", false)
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	reqs := make([]graph.BatchRequest, len(missing))
	for n, i := range missing {
		reqs[n] = graph.BatchRequest{
			ID:     strconv.Itoa(n + 1),
			Method: "GET",
			URL:    "/me/messages/" + url.PathEscape(unique[i]) + "?$select=" + url.QueryEscape(bodySelect),
		}
	}

	responses, err := s.client.Batch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	for n, resp := range responses {
		i := missing[n]
		if err := resp.Err(); err != nil {
			results[i].Error = err.Error()
			continue
		}
		var msg graph.Message
		if err := json.Unmarshal(resp.Body, &msg); err != nil {
			results[i].Error = fmt.Sprintf("decode message: %v", err)
			continue
		}
		body := bodyFromMessage(msg, format)
		s.cache.Set(bodyKey(unique[i], format), &body, s.cfg.BodyTTL)
		results[i].Body = &body
	}
	return results, nil
}

func bodyKey(messageID, format string) cache.Key {
	return cache.NewKey("email_body", map[string]string{
		"id":     messageID,
		"format": format,
	})
}

func normalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return FormatText, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: format must be %q or %q", ErrInvalidFilterValue, FormatText, FormatHTML)
	}
}

// ListAttachments returns attachment metadata for a message.
func (s *Service) ListAttachments(ctx context.Context, messageID string) ([]AttachmentInfo, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: empty message id", ErrInvalidFilterValue)
	}

	key := cache.NewKey("attachments", map[string]string{"id": messageID})

	return cached(ctx, s, "attachments", key, s.cfg.AttachmentsTTL, func() ([]AttachmentInfo, error) {
		var page graph.AttachmentPage
		path := "/me/messages/" + url.PathEscape(messageID) + "/attachments"
		if err := s.getJSON(ctx, "attachments", path, nil, &page); err != nil {
			return nil, err
		}
		out := make([]AttachmentInfo, 0, len(page.Value))
		for _, att := range page.Value {
			out = append(out, attachmentInfo(att))
		}
		return out, nil
	})
}

// profileTTL bounds how long the signed-in user identity is cached.
const profileTTL = time.Hour

// GetProfile returns the signed-in mailbox owner.
func (s *Service) GetProfile(ctx context.Context) (*Profile, error) {
	key := cache.NewKey("profile", nil)
	return cached(ctx, s, "profile", key, profileTTL, func() (*Profile, error) {
		var raw struct {
			ID                string `json:"id"`
			DisplayName       string `json:"displayName"`
			Mail              string `json:"mail"`
			UserPrincipalName string `json:"userPrincipalName"`
		}
		params := url.Values{}
		params.Set("$select", "id,displayName,mail,userPrincipalName")
		if err := s.getJSON(ctx, "profile", "/me", params, &raw); err != nil {
			return nil, err
		}
		return &Profile{
			ID:                raw.ID,
			DisplayName:       raw.DisplayName,
			Mail:              raw.Mail,
			UserPrincipalName: raw.UserPrincipalName,
		}, nil
	})
}

// CacheStats reports the response cache contents.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// CacheClear drops every cached response and returns the evicted count.
func (s *Service) CacheClear() int {
	return s.cache.Purge()
}

// cached wraps get-or-compute with lookup metrics and hit logging.
func cached[V any](ctx context.Context, s *Service, op string, key cache.Key, ttl time.Duration, compute func() (V, error)) (V, error) {
	v, hit, err := cache.GetOrCompute(s.cache, key, ttl, compute)
	if err != nil {
		var zero V
		return zero, err
	}
	s.recordCacheLookup(ctx, op, hit)
	if hit {
		s.logger.Debug("cache hit",
			logging.Operation(op),
			logging.CacheKey(string(key)))
	}
	return v, nil
}

func (s *Service) getJSON(ctx context.Context, op, path string, params url.Values, out any) error {
	start := time.Now()
	err := s.client.GetJSON(ctx, path, params, out)
	status := logging.StatusSuccess
	if err != nil {
		status = logging.StatusError
	}
	s.metrics.RecordGraphOperation(ctx, op, status, time.Since(start))
	if err != nil {
		s.logger.Warn("provider request failed",
			logging.Operation(op),
			logging.Endpoint(path),
			logging.Err(err))
	}
	return err
}

func (s *Service) recordCacheLookup(ctx context.Context, op string, hit bool) {
	s.metrics.RecordCacheLookup(ctx, op, hit)
}
