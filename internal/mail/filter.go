package mail

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidFilterValue marks caller input that cannot be safely embedded
// in a provider query. Rejection is the security boundary; values are
// never silently stripped.
var ErrInvalidFilterValue = errors.New("invalid filter value")

// Field names the message property a search term targets.
type Field string

const (
	FieldAll     Field = "all"
	FieldFrom    Field = "from"
	FieldTo      Field = "to"
	FieldCc      Field = "cc"
	FieldSubject Field = "subject"
	FieldBody    Field = "body"
)

// ParseField validates a caller-supplied field name. Empty means FieldAll.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FieldAll, nil
	case FieldAll, FieldFrom, FieldTo, FieldCc, FieldSubject, FieldBody:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown search field %q", ErrInvalidFilterValue, s)
	}
}

// maxConversationIDLen bounds conversation IDs; Graph IDs are base64 and
// well under this in practice.
const maxConversationIDLen = 512

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9+/=_-]+$`)

// ValidConversationID reports whether id is shaped like a Graph
// conversation ID (base64 alphabet, bounded length). Anything else is
// rejected before it can reach a $filter expression.
func ValidConversationID(id string) bool {
	if id == "" || len(id) > maxConversationIDLen {
		return false
	}
	return conversationIDPattern.MatchString(id)
}

// checkSearchValue rejects characters that are significant in a KQL
// $search expression and cannot be escaped there.
func checkSearchValue(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidFilterValue)
	}
	if strings.ContainsRune(value, '"') {
		return fmt.Errorf("%w: quote character in %q", ErrInvalidFilterValue, value)
	}
	for _, r := range value {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character in value", ErrInvalidFilterValue)
		}
	}
	return nil
}

// BuildSearchTerm builds one quoted $search fragment for a field. For
// FieldAll the term matches sender, recipient, or subject.
func BuildSearchTerm(field Field, value string) (string, error) {
	if err := checkSearchValue(value); err != nil {
		return "", err
	}
	term := strings.TrimPrefix(strings.TrimSpace(value), "@")

	switch field {
	case FieldFrom, FieldTo, FieldCc, FieldSubject, FieldBody:
		return fmt.Sprintf("%q", string(field)+":"+term), nil
	case FieldAll:
		return fmt.Sprintf("%q OR %q OR %q",
			"from:"+term, "to:"+term, "subject:"+term), nil
	default:
		return "", fmt.Errorf("%w: unknown search field %q", ErrInvalidFilterValue, string(field))
	}
}

// CombineSearch joins fragments with explicit AND. Empty input yields an
// empty expression, meaning no $search parameter at all.
func CombineSearch(terms []string) string {
	return strings.Join(terms, " AND ")
}

// BuildFilter builds an OData $filter equality fragment. Single quotes in
// the value are escaped by doubling per OData; control characters are
// rejected.
func BuildFilter(property, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidFilterValue)
	}
	for _, r := range value {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: control character in value", ErrInvalidFilterValue)
		}
	}
	escaped := strings.ReplaceAll(value, "'", "''")
	return fmt.Sprintf("%s eq '%s'", property, escaped), nil
}

// ConversationFilter builds the $filter expression selecting a thread.
// The ID is validated first so only base64-shaped identifiers reach the
// query, closing the injection path even for opaque-looking input.
func ConversationFilter(conversationID string) (string, error) {
	if !ValidConversationID(conversationID) {
		return "", fmt.Errorf("%w: malformed conversation id", ErrInvalidFilterValue)
	}
	return BuildFilter("conversationId", conversationID)
}
