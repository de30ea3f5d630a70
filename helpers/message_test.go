package helpers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_PlainText(t *testing.T) {
	raw := strings.Join([]string{
		"From: Alice <Alice@Example.COM>",
		"To: discuss@lists.example.com",
		"Cc: Bob <BOB@example.com>",
		"Subject: Hello world",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hi everyone,",
		"this is a test.",
		"",
	}, "\r\n")

	parsed, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", parsed.From)
	assert.Equal(t, []string{"discuss@lists.example.com"}, parsed.To)
	assert.Equal(t, []string{"bob@example.com"}, parsed.Cc)
	assert.Equal(t, "Hello world", parsed.Subject)
	assert.Contains(t, parsed.Text, "this is a test.")
	assert.Empty(t, parsed.HTML)
}

func TestParseMessage_MultipartAlternative(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@example.com",
		"To: discuss@lists.example.com",
		"Subject: Both bodies",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="frontier"`,
		"",
		"--frontier",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body",
		"--frontier",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html body</p>",
		"--frontier--",
		"",
	}, "\r\n")

	parsed, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	assert.Contains(t, parsed.Text, "plain body")
	assert.Contains(t, parsed.HTML, "html body")
	assert.Contains(t, parsed.BodyText(), "plain body")
}

func TestParseMessage_HTMLOnlyFallsBackToText(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@example.com",
		"To: discuss@lists.example.com",
		"Subject: HTML only",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><p>rendered from html</p></body></html>",
		"",
	}, "\r\n")

	parsed, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	assert.Empty(t, parsed.Text)
	assert.Contains(t, parsed.BodyText(), "rendered from html")
}

func TestParseMessage_Recipients(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@example.com",
		"To: one@example.com, two@example.com",
		"Cc: three@example.com",
		"Subject: fan out",
		"Content-Type: text/plain",
		"",
		"body",
		"",
	}, "\r\n")

	parsed, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"one@example.com", "two@example.com", "three@example.com"}, parsed.Recipients())
}

func TestParseMessage_MissingFrom(t *testing.T) {
	raw := strings.Join([]string{
		"To: discuss@lists.example.com",
		"Subject: anonymous",
		"Content-Type: text/plain",
		"",
		"body",
		"",
	}, "\r\n")

	parsed, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	assert.Empty(t, parsed.From)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeAddress("  User@Example.COM "))
}

func TestSplitAddress(t *testing.T) {
	local, domain, err := SplitAddress("user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user", local)
	assert.Equal(t, "example.com", domain)

	_, _, err = SplitAddress("no-at-sign")
	assert.Error(t, err)
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "hello", SanitizeUTF8("hel\x00lo"))
	assert.Equal(t, "caf", SanitizeUTF8("caf\xff"))
	assert.Equal(t, "café", SanitizeUTF8("café"))
}

func TestTruncatePreview(t *testing.T) {
	assert.Equal(t, "short", TruncatePreview("short", 300))
	long := strings.Repeat("a", 400)
	got := TruncatePreview(long, 300)
	assert.Equal(t, 303, len(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}
