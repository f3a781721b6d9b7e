package parser

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func TestParsePlainTextMessage(t *testing.T) {
	raw := crlf(
		"From: Jane Doe <jane@example.com>",
		"To: help@example.com",
		"Subject: New printer request",
		"Message-Id: <abc123@example.com>",
		"Date: Mon, 06 Jan 2025 10:00:00 +0000",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"The printer on floor 2 is out of toner.",
		"",
		"See https://example.com/p/2 for details.",
	)

	email, err := New().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", email.FromAddress)
	assert.Equal(t, "Jane Doe", email.FromName)
	assert.Equal(t, "New printer request", email.Subject)
	assert.Equal(t, "abc123@example.com", email.MessageID)
	assert.Equal(t, 2025, email.Date.Year())
	assert.Empty(t, email.HTML)
	assert.Contains(t, email.Text, "out of toner")
	assert.Equal(t,
		`<p>The printer on floor 2 is out of toner.</p><p>See <a href="https://example.com/p/2">https://example.com/p/2</a> for details.</p>`,
		email.TextAsHTML)
}

func TestParseMultipartAlternative(t *testing.T) {
	raw := crlf(
		"From: \"Bob\" <bob@example.com>",
		"Subject: =?UTF-8?Q?Re:_Printer_broken_=2342?=",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"It works now",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>It works now</p>",
		"--b1--",
		"",
	)

	email, err := New().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Re: Printer broken #42", email.Subject)
	assert.Equal(t, "bob@example.com", email.FromAddress)
	assert.Equal(t, "Bob", email.FromName)
	assert.Equal(t, "It works now", strings.TrimSpace(email.Text))
	assert.Equal(t, "<p>It works now</p>", strings.TrimSpace(email.HTML))
}

func TestParseHTMLOnlyDerivesText(t *testing.T) {
	raw := crlf(
		"From: ops@example.com",
		"Subject: Outage",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><p>Server &amp; network down</p><p>Line one<br>Line two</p><script>x()</script></body></html>",
	)

	email, err := New().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", email.FromAddress)
	assert.Empty(t, email.FromName)
	assert.Equal(t, "Server & network down\nLine one\nLine two", email.Text)
	assert.NotEmpty(t, email.TextAsHTML)
	assert.NotContains(t, email.Text, "x()")
}

func TestParseDecodesLatin1(t *testing.T) {
	raw := append(crlf(
		"From: a@example.com",
		"Subject: Charset",
		"Content-Type: text/plain; charset=iso-8859-1",
		"",
		"",
	), []byte{'c', 'a', 'f', 0xe9}...)

	email, err := New().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "café", email.Text)
}

func TestParseSkipsAttachments(t *testing.T) {
	raw := crlf(
		"From: a@example.com",
		"Subject: With file",
		`Content-Type: multipart/mixed; boundary="m"`,
		"",
		"--m",
		"Content-Type: text/plain",
		"",
		"see attached",
		"--m",
		"Content-Type: text/plain",
		`Content-Disposition: attachment; filename="log.txt"`,
		"",
		"attachment body",
		"--m--",
		"",
	)

	email, err := New().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "see attached", strings.TrimSpace(email.Text))
}

func TestParseBodyLimit(t *testing.T) {
	raw := crlf(
		"From: a@example.com",
		"Subject: big",
		"",
		strings.Repeat("x", 100),
	)
	email, err := New(WithBodyLimit(10)).Parse(raw)
	require.NoError(t, err)
	assert.Len(t, email.Text, 10)
}

func TestParseBodyLimitKeepsRunesWhole(t *testing.T) {
	raw := crlf(
		"From: a@example.com",
		"Subject: accents",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: 8bit",
		"",
		strings.Repeat("é", 10),
	)
	email, err := New(WithBodyLimit(5)).Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "éé", email.Text)
	assert.True(t, utf8.ValidString(email.TextAsHTML))
}

func TestParseUnknownCharsetYieldsValidUTF8(t *testing.T) {
	raw := crlf(
		"From: a@example.com",
		"Subject: menu",
		"Content-Type: text/plain; charset=x-mystery",
		"Content-Transfer-Encoding: 8bit",
		"",
		"caf\xe9 cr\xe8me",
	)
	email, err := New().Parse(raw)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(email.Text))
	assert.True(t, utf8.ValidString(email.TextAsHTML))
	assert.Equal(t, "caf\uFFFD cr\uFFFDme", strings.TrimSpace(email.Text))
}

func TestParseMalformedReturnsParseError(t *testing.T) {
	for _, raw := range [][]byte{
		nil,
		[]byte("   \r\n"),
		crlf("garbage line without a colon", "", "body"),
	} {
		_, err := New().Parse(raw)
		require.Error(t, err)
		var pe *inbound.ParseError
		require.True(t, errors.As(err, &pe), "expected ParseError for %q, got %v", raw, err)
	}
}

func TestTextToHTML(t *testing.T) {
	assert.Equal(t, "", TextToHTML(""))
	assert.Equal(t, "<p>a &lt;b&gt;<br/>c</p>", TextToHTML("a <b>\r\nc"))
	assert.Equal(t, "<p>one</p><p>two</p>", TextToHTML("one  \n\n\ntwo\n"))
}

func TestTextToHTMLAngleBracketLinks(t *testing.T) {
	assert.Equal(t,
		`<p>See the docs &lt;<a href="https://example.com/help">https://example.com/help</a>&gt; please</p>`,
		TextToHTML("See the docs <https://example.com/help> please"))
	assert.Equal(t,
		`<p><a href="https://example.com/?a=1&amp;b=2">https://example.com/?a=1&amp;b=2</a></p>`,
		TextToHTML("https://example.com/?a=1&b=2"))
	assert.Equal(t,
		`<p>&#34;<a href="https://example.com/q">https://example.com/q</a>&#34;</p>`,
		TextToHTML(`"https://example.com/q"`))
}
