// ABOUTME: Knowledge-source operations: list, create and attach to an agent
// ABOUTME: The service offers no lookup-by-name, so callers list and filter

package memgpt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Source is a named knowledge base held by the agent service.
type Source struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ListSources returns every source visible to the admin credential.
func (c *Client) ListSources(ctx context.Context) ([]Source, error) {
	body, _, err := c.Call(ctx, http.MethodGet, "/sources", nil)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}

	var resp struct {
		Sources []Source `json:"sources"`
	}
	if err := decode(body, &resp); err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return resp.Sources, nil
}

// FindSource returns the id of the source called name, or "" if none exists.
func (c *Client) FindSource(ctx context.Context, name string) (string, error) {
	sources, err := c.ListSources(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range sources {
		if s.Name == name {
			return s.ID, nil
		}
	}
	return "", nil
}

// CreateSource creates a source and returns its id. A concurrent creation of
// the same name surfaces as an error satisfying IsAlreadyExists.
func (c *Client) CreateSource(ctx context.Context, name string) (string, error) {
	body, _, err := c.Call(ctx, http.MethodPost, "/sources", map[string]string{"name": name})
	if err != nil {
		return "", fmt.Errorf("creating source %q: %w", name, err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := decode(body, &resp); err != nil {
		return "", fmt.Errorf("creating source %q: %w", name, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("creating source %q: response carried no id", name)
	}
	return resp.ID, nil
}

// AttachSource links a source to an agent. A freshly created agent may not be
// visible yet; the service reports that as "agent_id does not exist", which
// the default classifier retries.
func (c *Client) AttachSource(ctx context.Context, agentID, sourceID string) error {
	q := url.Values{}
	q.Set("agent_id", agentID)
	path := "/sources/" + url.PathEscape(sourceID) + "/attach?" + q.Encode()

	if _, _, err := c.Call(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("attaching source %s to agent %s: %w", sourceID, agentID, err)
	}
	return nil
}
