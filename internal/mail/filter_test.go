package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		input   string
		want    Field
		wantErr bool
	}{
		{"", FieldAll, false},
		{"all", FieldAll, false},
		{"from", FieldFrom, false},
		{"TO", FieldTo, false},
		{" subject ", FieldSubject, false},
		{"cc", FieldCc, false},
		{"body", FieldBody, false},
		{"attachment", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseField(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilterValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildSearchTerm(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		value   string
		want    string
		wantErr bool
	}{
		{
			name:  "from term",
			field: FieldFrom,
			value: "ana@example.com",
			want:  `"from:ana@example.com"`,
		},
		{
			name:  "subject term",
			field: FieldSubject,
			value: "invoice",
			want:  `"subject:invoice"`,
		},
		{
			name:  "all expands to or",
			field: FieldAll,
			value: "budget",
			want:  `"from:budget" OR "to:budget" OR "subject:budget"`,
		},
		{
			name:  "leading at stripped",
			field: FieldFrom,
			value: "@contoso.com",
			want:  `"from:contoso.com"`,
		},
		{
			name:    "quote rejected",
			field:   FieldSubject,
			value:   `invoice" OR "from:admin`,
			wantErr: true,
		},
		{
			name:    "control character rejected",
			field:   FieldSubject,
			value:   "invoice\x00",
			wantErr: true,
		},
		{
			name:    "newline rejected",
			field:   FieldSubject,
			value:   "invoice\nfrom:x",
			wantErr: true,
		},
		{
			name:    "blank rejected",
			field:   FieldFrom,
			value:   "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildSearchTerm(tt.field, tt.value)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilterValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCombineSearch(t *testing.T) {
	assert.Equal(t, "", CombineSearch(nil))
	assert.Equal(t, `"from:a"`, CombineSearch([]string{`"from:a"`}))
	assert.Equal(t, `"from:a" AND "subject:b"`, CombineSearch([]string{`"from:a"`, `"subject:b"`}))
}

func TestBuildFilter(t *testing.T) {
	got, err := BuildFilter("subject", "weekly report")
	require.NoError(t, err)
	assert.Equal(t, "subject eq 'weekly report'", got)
}

func TestBuildFilterEscapesSingleQuotes(t *testing.T) {
	got, err := BuildFilter("subject", "it's a trap' or 1 eq 1 --")
	require.NoError(t, err)
	assert.Equal(t, "subject eq 'it''s a trap'' or 1 eq 1 --'", got)
	// No lone quote survives; every one is doubled.
	stripped := strings.ReplaceAll(got[len("subject eq '"):len(got)-1], "''", "")
	assert.NotContains(t, stripped, "'")
}

func TestBuildFilterRejections(t *testing.T) {
	_, err := BuildFilter("subject", "")
	assert.ErrorIs(t, err, ErrInvalidFilterValue)

	_, err = BuildFilter("subject", "line1\nline2")
	assert.ErrorIs(t, err, ErrInvalidFilterValue)
}

func TestValidConversationID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"typical graph id", "AAQkADAwATM0MDAAMS1iYzRhLTkxZWYtMDACLTAwCgAQAIxONYOU_UhMoND1Wf-zfCY=", true},
		{"url safe base64", "abc-def_123=", true},
		{"empty", "", false},
		{"quote injection", "x' or subject eq 'secret", false},
		{"whitespace", "abc def", false},
		{"too long", strings.Repeat("A", 513), false},
		{"longest allowed", strings.Repeat("A", 512), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidConversationID(tt.id))
		})
	}
}

func TestConversationFilter(t *testing.T) {
	got, err := ConversationFilter("AQMkADAx=")
	require.NoError(t, err)
	assert.Equal(t, "conversationId eq 'AQMkADAx='", got)

	_, err = ConversationFilter("bad'id")
	assert.ErrorIs(t, err, ErrInvalidFilterValue)
}
