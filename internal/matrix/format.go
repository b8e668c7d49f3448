// ABOUTME: Renders agent replies as Matrix message content with an HTML formatted body
// ABOUTME: Markdown goes through goldmark; plain text is sent without a formatted body

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"maunium.net/go/mautrix/event"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// markdownHints are substrings that suggest the text is worth rendering.
var markdownHints = []string{"**", "__", "`", "](", "\n- ", "\n* ", "\n1. ", "# ", "\n>"}

// formatContent builds the message content for text.
func formatContent(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if !looksLikeMarkdown(text) {
		return content
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = strings.TrimSpace(buf.String())
	return content
}

func looksLikeMarkdown(text string) bool {
	padded := "\n" + text
	for _, hint := range markdownHints {
		if strings.Contains(padded, hint) {
			return true
		}
	}
	return false
}
