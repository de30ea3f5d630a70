package outbound

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migadu/listserv/helpers"
)

func TestCompose_TextOnly(t *testing.T) {
	raw, err := compose("Discuss", "discuss@lists.example.com", &Message{
		To:      "member@example.com",
		Subject: "Weekly update",
		Text:    "Nothing happened.",
	})
	require.NoError(t, err)

	parsed, err := helpers.ParseMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, "discuss@lists.example.com", parsed.From)
	assert.Equal(t, []string{"member@example.com"}, parsed.To)
	assert.Equal(t, "Weekly update", parsed.Subject)
	assert.Contains(t, parsed.Text, "Nothing happened.")
	assert.Empty(t, parsed.HTML)

	s := string(raw)
	assert.Contains(t, s, "Message-Id")
	assert.NotContains(t, s, "List-Unsubscribe")
}

func TestCompose_UnsubscribeFooterAndHeaders(t *testing.T) {
	url := "https://lists.example.com/unsubscribe/abc"
	raw, err := compose("Discuss", "discuss@lists.example.com", &Message{
		To:             "member@example.com",
		Subject:        "Weekly update",
		Text:           "body",
		HTML:           "<p>body</p>",
		UnsubscribeURL: url,
	})
	require.NoError(t, err)

	parsed, err := helpers.ParseMessage(raw)
	require.NoError(t, err)

	assert.Contains(t, parsed.Text, "unsubscribe here: "+url)
	assert.Contains(t, parsed.HTML, `href="`+url+`"`)

	s := string(raw)
	assert.Contains(t, s, "List-Unsubscribe: <"+url+">")
	assert.Contains(t, s, "List-Unsubscribe-Post: List-Unsubscribe=One-Click")
}

func TestCompose_MultipartAlternative(t *testing.T) {
	raw, err := compose("Discuss", "discuss@lists.example.com", &Message{
		To:      "member@example.com",
		Subject: "Both",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	})
	require.NoError(t, err)

	assert.Contains(t, string(raw), "multipart/alternative")

	parsed, err := helpers.ParseMessage(raw)
	require.NoError(t, err)
	assert.Contains(t, parsed.Text, "plain body")
	assert.Contains(t, parsed.HTML, "html body")
}

func TestCompose_InvalidSender(t *testing.T) {
	_, err := compose("x", "not-an-address", &Message{To: "a@b.c", Text: "t"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid sender address"))
}
