package graph

// EmailAddress is a Graph emailAddress object.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// Recipient wraps an EmailAddress the way Graph message payloads do.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// ItemBody is a Graph itemBody: content plus its declared content type
// ("text" or "html").
type ItemBody struct {
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Message is the subset of a Graph message resource the mail operations
// consume. Fields not requested through $select stay at their zero value.
type Message struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject,omitempty"`
	From             *Recipient  `json:"from,omitempty"`
	ToRecipients     []Recipient `json:"toRecipients,omitempty"`
	CcRecipients     []Recipient `json:"ccRecipients,omitempty"`
	ReceivedDateTime string      `json:"receivedDateTime,omitempty"`
	BodyPreview      string      `json:"bodyPreview,omitempty"`
	Body             *ItemBody   `json:"body,omitempty"`
	HasAttachments   bool        `json:"hasAttachments,omitempty"`
	ConversationID   string      `json:"conversationId,omitempty"`
	Importance       string      `json:"importance,omitempty"`
}

// MessagePage is one page of a message collection response.
type MessagePage struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"@odata.nextLink,omitempty"`
}

// Attachment is the metadata subset of a Graph attachment resource.
type Attachment struct {
	ODataType   string `json:"@odata.type,omitempty"`
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// AttachmentPage is a page of an attachment collection response.
type AttachmentPage struct {
	Value    []Attachment `json:"value"`
	NextLink string       `json:"@odata.nextLink,omitempty"`
}
