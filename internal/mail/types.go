package mail

// EmailSummary is the search-result shape returned to tool callers.
type EmailSummary struct {
	ID             string   `json:"id"`
	Subject        string   `json:"subject"`
	From           string   `json:"from"`
	FromName       string   `json:"from_name"`
	To             []string `json:"to"`
	Date           string   `json:"date"`
	DateTime       string   `json:"datetime"`
	Preview        string   `json:"preview"`
	HasAttachments bool     `json:"has_attachments"`
	ConversationID string   `json:"conversation_id"`
	Importance     string   `json:"importance"`
}

// Profile identifies the signed-in mailbox owner.
type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"user_principal_name"`
}

// Address is a display name plus email address.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// EmailBody is a full message body in the requested format.
type EmailBody struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	From           Address   `json:"from"`
	To             []Address `json:"to"`
	Date           string    `json:"date"`
	Format         string    `json:"format"`
	Body           string    `json:"body"`
	HasAttachments bool      `json:"has_attachments"`
	ConversationID string    `json:"conversation_id"`
}

// ConversationMessage is one message within a thread, positioned in
// received order starting at 1.
type ConversationMessage struct {
	Position int    `json:"position"`
	ID       string `json:"id"`
	Date     string `json:"date"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
	Preview  string `json:"preview"`
	Body     string `json:"body,omitempty"`
}

// Conversation is a full thread with aggregate metadata.
type Conversation struct {
	ConversationID string                `json:"conversation_id"`
	Subject        string                `json:"subject"`
	Participants   []string              `json:"participants"`
	MessageCount   int                   `json:"message_count"`
	DateRange      string                `json:"date_range"`
	Messages       []ConversationMessage `json:"messages"`
}

// ConversationResult tags one bulk item as a conversation or an error.
// Error is empty on success.
type ConversationResult struct {
	ConversationID string        `json:"conversation_id"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// BulkStats summarizes a bulk retrieval.
type BulkStats struct {
	Total      int   `json:"total"`
	Successful int   `json:"successful"`
	Failed     int   `json:"failed"`
	ElapsedMS  int64 `json:"elapsed_ms"`
}

// BulkConversations is the get_conversations_bulk response: one result
// per unique input ID, in input order.
type BulkConversations struct {
	Conversations []ConversationResult `json:"conversations"`
	Stats         BulkStats            `json:"stats"`
}

// AttachmentInfo is one attachment's metadata.
type AttachmentInfo struct {
	ID          string `json:"attachment_id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Kind        string `json:"kind"`
}

// BodyResult tags one bulk body item. Error is empty on success.
type BodyResult struct {
	MessageID string     `json:"message_id"`
	Body      *EmailBody `json:"body,omitempty"`
	Error     string     `json:"error,omitempty"`
}
