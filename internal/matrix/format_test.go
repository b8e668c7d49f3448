// ABOUTME: Tests for reply formatting into Matrix message content
// ABOUTME: Checks plain text stays plain and markdown gains an HTML body

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/event"
)

func TestFormatContent_PlainText(t *testing.T) {
	content := formatContent("hello there")

	assert.Equal(t, event.MsgText, content.MsgType)
	assert.Equal(t, "hello there", content.Body)
	assert.Empty(t, content.Format)
	assert.Empty(t, content.FormattedBody)
}

func TestFormatContent_Markdown(t *testing.T) {
	content := formatContent("this is **bold** and `code`")

	assert.Equal(t, "this is **bold** and `code`", content.Body)
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Equal(t, "<p>this is <strong>bold</strong> and <code>code</code></p>", content.FormattedBody)
}

func TestFormatContent_List(t *testing.T) {
	content := formatContent("- one\n- two")

	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, "<li>one</li>")
	assert.Contains(t, content.FormattedBody, "<li>two</li>")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
	assert.Equal(t, "héé...", truncate("hééllo", 3))
}
