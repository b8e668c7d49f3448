// ABOUTME: Provisioner creates a user's agent, records the binding and attaches sources
// ABOUTME: The result carries the aggregate outcome and which sources failed

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/fixie-bridge/internal/memgpt"
	"github.com/2389/fixie-bridge/internal/metrics"
	"github.com/2389/fixie-bridge/internal/profile"
	"github.com/2389/fixie-bridge/internal/store"
)

// DefaultAttachDelay separates agent creation from the first attach call.
const DefaultAttachDelay = 2 * time.Second

// ErrNoProfile is returned when no profile catalog has been loaded.
var ErrNoProfile = errors.New("no agent profile available")

// AgentAPI is the slice of the agent service the provisioner needs.
type AgentAPI interface {
	SourceAPI
	CreateAgent(ctx context.Context, cfg memgpt.AgentConfig) (*memgpt.AgentState, error)
	DeleteAgent(ctx context.Context, agentID string) error
}

// Catalogs yields the active profile catalog.
type Catalogs interface {
	Current() *profile.Catalog
}

// Config holds Provisioner options.
type Config struct {
	AttachDelay time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Result describes one provisioning run.
type Result struct {
	AgentID   string
	Assistant string // profile name, used in user-facing text
	Outcome   Outcome
	Attached  []string
	Failed    []string
}

// Message is the user-facing summary of the result.
func (r *Result) Message() string {
	return r.Outcome.Message(r.Assistant)
}

// Provisioner turns a registered user into one with a working agent.
type Provisioner struct {
	api         AgentAPI
	sources     *Sources
	dir         store.Directory
	catalogs    Catalogs
	attachDelay time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a Provisioner.
func New(api AgentAPI, dir store.Directory, catalogs Catalogs, cfg Config) *Provisioner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AttachDelay < 0 {
		cfg.AttachDelay = 0
	}
	return &Provisioner{
		api:         api,
		sources:     NewSources(api, logger),
		dir:         dir,
		catalogs:    catalogs,
		attachDelay: cfg.AttachDelay,
		logger:      logger.With("component", "provisioner"),
		metrics:     cfg.Metrics,
	}
}

// Sources returns the source resolver used for attachment.
func (p *Provisioner) Sources() *Sources {
	return p.sources
}

// Provision creates an agent for userID from the default profile, records the
// binding in the directory and attaches the profile's sources. An error means
// no agent is bound; a non-nil Result always has an agent bound. Cancellation
// after binding skips the remaining attachments and reports them as failed.
func (p *Provisioner) Provision(ctx context.Context, userID, pseudonym string) (*Result, error) {
	prof, err := p.catalogs.Current().Default()
	if err != nil {
		p.metrics.ObserveProvisioning("error")
		return nil, fmt.Errorf("%w: %v", ErrNoProfile, err)
	}

	cfg, err := prof.AgentConfig(pseudonym)
	if err != nil {
		p.metrics.ObserveProvisioning("error")
		return nil, err
	}

	state, err := p.api.CreateAgent(ctx, cfg)
	if err != nil {
		p.metrics.ObserveProvisioning("error")
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	logger := p.logger.With("user", userID, "agent_id", state.ID)
	logger.Info("created agent", "name", cfg.Name, "profile", prof.Name)

	if err := p.dir.SetAgentID(ctx, userID, state.ID); err != nil {
		p.metrics.ObserveProvisioning("error")
		// an unbound agent would leak; remove it best effort
		if derr := p.api.DeleteAgent(context.WithoutCancel(ctx), state.ID); derr != nil {
			logger.Warn("failed to remove unbound agent", "error", derr)
		}
		return nil, fmt.Errorf("saving agent id: %w", err)
	}

	res := &Result{AgentID: state.ID, Assistant: prof.Name}

	settled := true
	if len(prof.SourceIDs) > 0 {
		if err := sleep(ctx, p.attachDelay); err != nil {
			logger.Warn("interrupted before attaching sources", "error", err)
			settled = false
		}
	}
	for _, sourceID := range prof.SourceIDs {
		if settled && p.sources.Attach(ctx, state.ID, sourceID) {
			res.Attached = append(res.Attached, sourceID)
		} else {
			res.Failed = append(res.Failed, sourceID)
		}
	}

	res.Outcome = OutcomeOf(len(res.Attached), len(prof.SourceIDs))
	p.metrics.ObserveProvisioning(res.Outcome.String())

	if res.Outcome == Ready {
		logger.Info("provisioning complete", "sources", len(res.Attached))
	} else {
		logger.Warn("provisioning incomplete",
			"outcome", res.Outcome.String(),
			"attached", res.Attached,
			"failed_sources", res.Failed,
		)
	}
	return res, nil
}

// Deprovision deletes the user's remote agent, if any, and then the user record.
// A remote agent that is already gone is not an error.
func (p *Provisioner) Deprovision(ctx context.Context, userID string) error {
	user, err := p.dir.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.AgentID != "" {
		if err := p.api.DeleteAgent(ctx, user.AgentID); err != nil && !memgpt.IsNotFound(err) {
			return fmt.Errorf("deleting agent %s: %w", user.AgentID, err)
		}
		p.logger.Info("deleted agent", "user", userID, "agent_id", user.AgentID)
	}

	if err := p.dir.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
