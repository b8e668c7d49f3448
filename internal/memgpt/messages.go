// ABOUTME: Sends a user message to an agent and extracts the assistant reply
// ABOUTME: The reply arrives as server-sent events; the first assistant_message wins

package memgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/r3labs/sse/v2"
)

// maxEventBytes bounds a single server-sent event.
const maxEventBytes = 1 << 20

type messageRequest struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
	Role    string `json:"role"`
}

// SendMessage posts text to the agent as the user and returns the assistant's
// reply. ErrNoReply is returned when the stream completes without one.
func (c *Client) SendMessage(ctx context.Context, agentID, text string) (string, error) {
	req := messageRequest{
		AgentID: agentID,
		Message: text,
		Stream:  true,
		Role:    "user",
	}

	body, _, err := c.Call(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/messages", req)
	if err != nil {
		return "", fmt.Errorf("sending message to agent %s: %w", agentID, err)
	}

	reply, err := ParseAssistantMessage(bytes.NewReader(body))
	if err != nil {
		if !errors.Is(err, ErrNoReply) {
			return "", fmt.Errorf("reading reply from agent %s: %w", agentID, err)
		}
		return "", err
	}
	return reply, nil
}

// ParseAssistantMessage scans a server-sent event stream for the first
// "data:" payload that is a JSON object with an assistant_message field.
// Lines that are not valid JSON (keep-alives, "[DONE]") are skipped.
func ParseAssistantMessage(r io.Reader) (string, error) {
	reader := sse.NewEventStreamReader(r, maxEventBytes)
	for {
		evt, err := reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrNoReply
			}
			return "", fmt.Errorf("reading event stream: %w", err)
		}

		for _, line := range strings.Split(string(evt), "\n") {
			line = strings.TrimRight(line, "\r")
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if msg, ok := assistantMessage(strings.TrimPrefix(line, "data:")); ok {
				return msg, nil
			}
		}
	}
}

func assistantMessage(data string) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &fields); err != nil {
		return "", false
	}
	raw, ok := fields["assistant_message"]
	if !ok {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", false
	}
	return msg, true
}
