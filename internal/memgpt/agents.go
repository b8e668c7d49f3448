// ABOUTME: Agent lifecycle operations against the agent service
// ABOUTME: Create uses the preset-based config profile; list and delete serve admin tooling

package memgpt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// AgentConfig is the preset-based agent creation payload.
type AgentConfig struct {
	Name          string   `json:"name"`
	Preset        string   `json:"preset"`
	Human         string   `json:"human"`
	Persona       string   `json:"persona"`
	FunctionNames []string `json:"function_names"`
}

// AgentState is the service's view of an agent.
type AgentState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Persona   string `json:"persona,omitempty"`
	Human     string `json:"human,omitempty"`
	Preset    string `json:"preset,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateAgent creates an agent and returns its state.
func (c *Client) CreateAgent(ctx context.Context, cfg AgentConfig) (*AgentState, error) {
	if cfg.FunctionNames == nil {
		cfg.FunctionNames = []string{}
	}

	body, _, err := c.Call(ctx, http.MethodPost, "/agents", map[string]AgentConfig{"config": cfg})
	if err != nil {
		return nil, fmt.Errorf("creating agent %q: %w", cfg.Name, err)
	}

	var resp struct {
		AgentState AgentState `json:"agent_state"`
	}
	if err := decode(body, &resp); err != nil {
		return nil, fmt.Errorf("creating agent %q: %w", cfg.Name, err)
	}
	if resp.AgentState.ID == "" {
		return nil, errors.New("creating agent: response carried no agent id")
	}
	return &resp.AgentState, nil
}

// DeleteAgent removes an agent.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	if _, _, err := c.Call(ctx, http.MethodDelete, "/agents/"+url.PathEscape(agentID), nil); err != nil {
		return fmt.Errorf("deleting agent %s: %w", agentID, err)
	}
	return nil
}

// ListAgents returns every agent visible to the admin credential.
func (c *Client) ListAgents(ctx context.Context) ([]AgentState, error) {
	body, _, err := c.Call(ctx, http.MethodGet, "/agents", nil)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	var resp struct {
		Agents []AgentState `json:"agents"`
	}
	if err := decode(body, &resp); err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return resp.Agents, nil
}
