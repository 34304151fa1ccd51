package mail

import (
	"html"
	"regexp"
	"strings"

	"github.com/mwieland/graphmail/internal/graph"
)

const previewLimit = 200

var (
	styleBlockRe = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	scriptRe     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	blockElemRe  = regexp.MustCompile(`(?i)<(br|p|div|tr|li)[^>]*>`)
	anyTagRe     = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n`)
	spacesRe     = regexp.MustCompile(` +`)
)

// HTMLToText reduces an HTML body to readable plain text: style and
// script blocks dropped, block elements turned into line breaks, the
// remaining tags stripped, entities decoded, whitespace collapsed.
func HTMLToText(content string) string {
	if content == "" {
		return ""
	}
	text := styleBlockRe.ReplaceAllString(content, "")
	text = scriptRe.ReplaceAllString(text, "")
	text = blockElemRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	text = spacesRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func fromAddress(msg graph.Message) (addr, name string) {
	if msg.From == nil {
		return "", ""
	}
	return msg.From.EmailAddress.Address, msg.From.EmailAddress.Name
}

func recipientAddresses(recipients []graph.Recipient) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, r.EmailAddress.Address)
	}
	return out
}

func dateOf(receivedDateTime string) string {
	if len(receivedDateTime) < 10 {
		return receivedDateTime
	}
	return receivedDateTime[:10]
}

func summaryFromMessage(msg graph.Message) EmailSummary {
	addr, name := fromAddress(msg)
	importance := msg.Importance
	if importance == "" {
		importance = "normal"
	}
	return EmailSummary{
		ID:             msg.ID,
		Subject:        msg.Subject,
		From:           addr,
		FromName:       name,
		To:             recipientAddresses(msg.ToRecipients),
		Date:           dateOf(msg.ReceivedDateTime),
		DateTime:       msg.ReceivedDateTime,
		Preview:        truncate(msg.BodyPreview, previewLimit),
		HasAttachments: msg.HasAttachments,
		ConversationID: msg.ConversationID,
		Importance:     importance,
	}
}

func bodyFromMessage(msg graph.Message, format string) EmailBody {
	var content string
	if msg.Body != nil {
		content = msg.Body.Content
		if format == FormatText && strings.EqualFold(msg.Body.ContentType, "html") {
			content = HTMLToText(content)
		}
	}

	to := make([]Address, 0, len(msg.ToRecipients))
	for _, r := range msg.ToRecipients {
		to = append(to, Address{Name: r.EmailAddress.Name, Address: r.EmailAddress.Address})
	}

	var from Address
	if msg.From != nil {
		from = Address{Name: msg.From.EmailAddress.Name, Address: msg.From.EmailAddress.Address}
	}

	return EmailBody{
		ID:             msg.ID,
		Subject:        msg.Subject,
		From:           from,
		To:             to,
		Date:           msg.ReceivedDateTime,
		Format:         format,
		Body:           content,
		HasAttachments: msg.HasAttachments,
		ConversationID: msg.ConversationID,
	}
}

func conversationMessage(msg graph.Message, position int, includeBody bool) ConversationMessage {
	addr, name := fromAddress(msg)
	out := ConversationMessage{
		Position: position,
		ID:       msg.ID,
		Date:     msg.ReceivedDateTime,
		From:     addr,
		FromName: name,
		Preview:  truncate(msg.BodyPreview, previewLimit),
	}
	if includeBody && msg.Body != nil {
		body := msg.Body.Content
		if strings.EqualFold(msg.Body.ContentType, "html") {
			body = HTMLToText(body)
		}
		out.Body = body
	}
	return out
}

func attachmentInfo(att graph.Attachment) AttachmentInfo {
	return AttachmentInfo{
		ID:          att.ID,
		Name:        att.Name,
		Size:        att.Size,
		ContentType: att.ContentType,
		Kind:        strings.TrimPrefix(att.ODataType, "#microsoft.graph."),
	}
}
