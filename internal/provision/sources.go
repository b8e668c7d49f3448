// ABOUTME: Idempotent source resolution and agent attachment
// ABOUTME: Concurrent creators converge on one id by re-querying after "already exists"

package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/fixie-bridge/internal/memgpt"
)

// SourceAPI is the slice of the agent service that source handling needs.
type SourceAPI interface {
	FindSource(ctx context.Context, name string) (string, error)
	CreateSource(ctx context.Context, name string) (string, error)
	AttachSource(ctx context.Context, agentID, sourceID string) error
}

// Sources resolves knowledge sources by name and attaches them to agents.
type Sources struct {
	api    SourceAPI
	logger *slog.Logger
}

// NewSources creates a Sources backed by api.
func NewSources(api SourceAPI, logger *slog.Logger) *Sources {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sources{api: api, logger: logger.With("component", "sources")}
}

// ResolveOrCreate returns the id of the source called name, creating it when absent.
// If creation loses a race to another creator the lookup runs once more. Any other
// creation failure is logged and returned; nothing here retries indefinitely.
func (s *Sources) ResolveOrCreate(ctx context.Context, name string) (string, error) {
	id, err := s.api.FindSource(ctx, name)
	if err != nil {
		return "", fmt.Errorf("looking up source %q: %w", name, err)
	}
	if id != "" {
		return id, nil
	}

	s.logger.Info("source not found, creating", "source", name)
	id, err = s.api.CreateSource(ctx, name)
	if err == nil {
		s.logger.Info("created source", "source", name, "source_id", id)
		return id, nil
	}

	if !memgpt.IsAlreadyExists(err) {
		s.logger.Error("failed to create source", "source", name, "error", err)
		return "", err
	}

	s.logger.Info("source created concurrently, re-querying", "source", name)
	id, err = s.api.FindSource(ctx, name)
	if err != nil {
		return "", fmt.Errorf("re-querying source %q: %w", name, err)
	}
	if id == "" {
		return "", fmt.Errorf("source %q reported as existing but not listed", name)
	}
	return id, nil
}

// Attach links sourceID to agentID and reports whether it succeeded.
// The client's retry policy already covers the agent-not-yet-visible window.
func (s *Sources) Attach(ctx context.Context, agentID, sourceID string) bool {
	if err := s.api.AttachSource(ctx, agentID, sourceID); err != nil {
		s.logger.Warn("failed to attach source",
			"agent_id", agentID,
			"source_id", sourceID,
			"error", err,
		)
		return false
	}
	s.logger.Debug("attached source", "agent_id", agentID, "source_id", sourceID)
	return true
}
