// ABOUTME: Delivery loop draining per-user queues round-robin into the agent service
// ABOUTME: Each dequeued message is attempted once and always answers the user

package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/fixie-bridge/internal/memgpt"
	"github.com/2389/fixie-bridge/internal/metrics"
	"github.com/2389/fixie-bridge/internal/queue"
	"github.com/2389/fixie-bridge/internal/store"
)

// DefaultPollInterval is the pause observed after every pass.
const DefaultPollInterval = 100 * time.Millisecond

// User-facing texts sent instead of a reply.
const (
	ApologyText    = "Sorry, I couldn't get a reply from your assistant right now. Please try again in a moment."
	ReRegisterText = "You don't have an assistant yet. Please send /start to register again."
	NoReplyText    = "No assistant message found in response."
)

// AgentClient sends a user's text to their agent and returns the reply.
type AgentClient interface {
	SendMessage(ctx context.Context, agentID, text string) (string, error)
}

// Sender routes text back to a platform user.
type Sender interface {
	SendText(ctx context.Context, userID, text string) error
}

// State is the loop's coarse activity.
type State int32

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Config holds optional Loop settings.
type Config struct {
	PollInterval time.Duration
	Log          store.DeliveryLog // nil disables delivery records
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Loop is the single consumer of the message queue.
type Loop struct {
	queue        *queue.Queue
	dir          store.Directory
	agent        AgentClient
	out          Sender
	log          store.DeliveryLog
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	state atomic.Int32
}

// New creates a Loop.
func New(q *queue.Queue, dir store.Directory, agent AgentClient, out Sender, cfg Config) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		queue:        q,
		dir:          dir,
		agent:        agent,
		out:          out,
		log:          cfg.Log,
		pollInterval: cfg.PollInterval,
		logger:       logger.With("component", "delivery"),
		metrics:      cfg.Metrics,
	}
}

// State reports whether the loop is currently draining.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run drains queues until ctx is cancelled. Pending and in-flight messages
// are abandoned on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("delivery loop started", "poll_interval", l.pollInterval)
	defer l.logger.Info("delivery loop stopped", "abandoned", l.queue.Len())

	pause := time.NewTimer(l.pollInterval)
	defer pause.Stop()

	for {
		progressed := l.drainOnce(ctx)
		l.metrics.SetQueueDepth(l.queue.Len())

		pause.Reset(l.pollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-pause.C:
		}

		if !progressed {
			select {
			case <-ctx.Done():
				return nil
			case <-l.queue.Notify():
			}
		}
	}
}

// drainOnce visits every known queue once, delivering at most one message per
// user, and reports whether anything was dequeued.
func (l *Loop) drainOnce(ctx context.Context) bool {
	l.state.Store(int32(Draining))
	defer l.state.Store(int32(Idle))

	progressed := false
	for _, user := range l.queue.Users() {
		if ctx.Err() != nil {
			return progressed
		}
		text, ok := l.queue.TryDequeue(user)
		if !ok {
			continue
		}
		progressed = true
		l.deliver(ctx, user, text)
	}
	return progressed
}

// deliver makes one attempt at a message. Whatever happens the user gets an answer.
func (l *Loop) deliver(ctx context.Context, userID, text string) {
	start := time.Now()
	rec := &store.Delivery{UserID: userID, Request: text}
	logger := l.logger.With("user", userID)

	defer func() {
		l.metrics.ObserveDelivery(string(rec.Status), time.Since(start))
		if l.log == nil {
			return
		}
		if err := l.log.RecordDelivery(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warn("failed to record delivery", "error", err)
		}
	}()

	user, err := l.dir.GetUser(ctx, userID)
	switch {
	case err != nil && !errors.Is(err, store.ErrNotFound):
		logger.Error("directory lookup failed", "error", err)
		rec.Status = store.DeliveryFailed
		rec.Error = err.Error()
		l.send(ctx, logger, userID, ApologyText)
		return
	case !user.Provisioned():
		logger.Info("dropping message for user without agent")
		rec.Status = store.DeliveryDropped
		l.send(ctx, logger, userID, ReRegisterText)
		return
	}

	rec.AgentID = user.AgentID
	logger = logger.With("agent_id", user.AgentID)

	reply, err := l.agent.SendMessage(ctx, user.AgentID, text)
	switch {
	case errors.Is(err, memgpt.ErrNoReply):
		logger.Warn("agent response had no assistant message")
		rec.Status = store.DeliveryFailed
		rec.Error = err.Error()
		l.send(ctx, logger, userID, NoReplyText)
	case err != nil:
		rec.Status = store.DeliveryFailed
		rec.Error = err.Error()
		if ctx.Err() != nil {
			logger.Warn("delivery abandoned on shutdown", "error", err)
			return
		}
		logger.Error("delivery failed", "error", err)
		l.send(ctx, logger, userID, ApologyText)
	default:
		rec.Status = store.DeliveryDelivered
		rec.Reply = reply
		logger.Debug("delivered reply", "duration", time.Since(start))
		l.send(ctx, logger, userID, reply)
	}
}

func (l *Loop) send(ctx context.Context, logger *slog.Logger, userID, text string) {
	if err := l.out.SendText(ctx, userID, text); err != nil {
		logger.Error("failed to send to user", "error", err)
	}
}
