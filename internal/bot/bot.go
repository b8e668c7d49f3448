// ABOUTME: Platform-neutral conversation handler: registration, commands and enqueueing
// ABOUTME: Tracks which users owe us a pseudonym and turns provisioning results into replies

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/fixie-bridge/internal/provision"
	"github.com/2389/fixie-bridge/internal/queue"
	"github.com/2389/fixie-bridge/internal/store"
)

// Message is one inbound text from a platform user.
type Message struct {
	UserID string
	ChatID string // where replies should go
	Text   string
}

// Messenger sends to platform users.
type Messenger interface {
	SendText(ctx context.Context, userID, text string) error
	SetTyping(ctx context.Context, userID string, typing bool) error
}

// Provisioner creates and removes a user's agent.
type Provisioner interface {
	Provision(ctx context.Context, userID, pseudonym string) (*provision.Result, error)
	Deprovision(ctx context.Context, userID string) error
}

// MaintenanceGate reports whether the agent service is considered down.
type MaintenanceGate interface {
	InMaintenance() bool
}

// Config holds optional Bot settings.
type Config struct {
	Assistant       string        // name used in greetings
	AssistantName   func() string // when set, consulted on every greeting; "" falls back to Assistant
	TypingIndicator bool
	Maintenance     MaintenanceGate
	Logger          *slog.Logger
}

// Bot routes inbound messages. It is safe for concurrent use.
type Bot struct {
	dir       store.Directory
	prov      Provisioner
	queue     *queue.Queue
	out       Messenger
	gate      MaintenanceGate
	assistant string
	nameFn    func() string
	typing    bool
	logger    *slog.Logger

	mu       sync.Mutex
	awaiting map[string]bool // users asked for a pseudonym
}

// New creates a Bot.
func New(dir store.Directory, prov Provisioner, q *queue.Queue, out Messenger, cfg Config) *Bot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Assistant == "" {
		cfg.Assistant = "FixieTheGenie"
	}
	return &Bot{
		dir:       dir,
		prov:      prov,
		queue:     q,
		out:       out,
		gate:      cfg.Maintenance,
		assistant: cfg.Assistant,
		nameFn:    cfg.AssistantName,
		typing:    cfg.TypingIndicator,
		logger:    logger.With("component", "bot"),
		awaiting:  make(map[string]bool),
	}
}

// Handle processes one inbound message. Errors are reported to the user where
// possible; the returned error is for logging only.
func (b *Bot) Handle(ctx context.Context, msg Message) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	if cmd, ok := parseCommand(text); ok {
		b.setAwaiting(msg.UserID, false)
		switch cmd {
		case "start":
			return b.start(ctx, msg)
		case "forget":
			return b.forget(ctx, msg)
		case "help":
			return b.reply(ctx, msg.UserID, HelpText)
		default:
			return b.reply(ctx, msg.UserID, fmt.Sprintf("Unknown command /%s. %s", cmd, HelpText))
		}
	}

	if b.isAwaiting(msg.UserID) {
		return b.register(ctx, msg, text)
	}
	return b.relay(ctx, msg, text)
}

// parseCommand recognizes "/name" and "/name@bot" forms.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return "", false
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	return strings.ToLower(cmd), true
}

func (b *Bot) start(ctx context.Context, msg Message) error {
	user, err := b.dir.GetUser(ctx, msg.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		b.logger.Error("directory lookup failed", "user", msg.UserID, "error", err)
		return b.reply(ctx, msg.UserID, ErrorText)
	}
	if user.Provisioned() {
		return b.reply(ctx, msg.UserID, WelcomeBackText)
	}

	b.setAwaiting(msg.UserID, true)
	return b.reply(ctx, msg.UserID, fmt.Sprintf(GreetingText, b.assistantName()))
}

func (b *Bot) assistantName() string {
	if b.nameFn != nil {
		if name := b.nameFn(); name != "" {
			return name
		}
	}
	return b.assistant
}

func (b *Bot) register(ctx context.Context, msg Message, pseudonym string) error {
	b.setAwaiting(msg.UserID, false)
	logger := b.logger.With("user", msg.UserID)

	if b.gate != nil && b.gate.InMaintenance() {
		return b.reply(ctx, msg.UserID, MaintenanceText)
	}

	user := &store.User{ID: msg.UserID, Pseudonym: pseudonym, ChatID: msg.ChatID}
	if err := b.dir.SaveUser(ctx, user); err != nil {
		logger.Error("failed to save pseudonym", "error", err)
		return b.reply(ctx, msg.UserID, RegistrationFailedText)
	}

	if b.typing {
		b.setTyping(ctx, msg.UserID, true)
		defer b.setTyping(ctx, msg.UserID, false)
	}

	res, err := b.prov.Provision(ctx, msg.UserID, pseudonym)
	if err != nil {
		logger.Error("provisioning failed", "error", err)
		return b.reply(ctx, msg.UserID, RegistrationFailedText)
	}

	logger.Info("user registered",
		"agent_id", res.AgentID,
		"outcome", res.Outcome.String(),
	)
	return b.reply(ctx, msg.UserID, fmt.Sprintf(RegisteredText, pseudonym, res.Message()))
}

func (b *Bot) relay(ctx context.Context, msg Message, text string) error {
	user, err := b.dir.GetUser(ctx, msg.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return b.reply(ctx, msg.UserID, NotRegisteredText)
	case err != nil:
		b.logger.Error("directory lookup failed", "user", msg.UserID, "error", err)
		return b.reply(ctx, msg.UserID, ErrorText)
	case !user.Provisioned():
		return b.reply(ctx, msg.UserID, NoAgentText)
	}

	if b.gate != nil && b.gate.InMaintenance() {
		return b.reply(ctx, msg.UserID, MaintenanceText)
	}

	// keep the stored reply channel current
	if msg.ChatID != "" && msg.ChatID != user.ChatID {
		user.ChatID = msg.ChatID
		if err := b.dir.SaveUser(ctx, user); err != nil {
			b.logger.Warn("failed to update chat id", "user", msg.UserID, "error", err)
		}
	}

	if b.typing {
		b.setTyping(ctx, msg.UserID, true)
	}
	b.queue.Enqueue(msg.UserID, text)
	b.logger.Debug("message queued", "user", msg.UserID, "depth", b.queue.Depth(msg.UserID))
	return nil
}

func (b *Bot) forget(ctx context.Context, msg Message) error {
	err := b.prov.Deprovision(ctx, msg.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return b.reply(ctx, msg.UserID, NotRegisteredText)
	case err != nil:
		b.logger.Error("failed to forget user", "user", msg.UserID, "error", err)
		return b.reply(ctx, msg.UserID, ErrorText)
	}
	b.logger.Info("user forgotten", "user", msg.UserID)
	return b.reply(ctx, msg.UserID, ForgottenText)
}

// Awaiting reports whether the user has been asked for a pseudonym.
func (b *Bot) Awaiting(userID string) bool {
	return b.isAwaiting(userID)
}

func (b *Bot) isAwaiting(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.awaiting[userID]
}

func (b *Bot) setAwaiting(userID string, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.awaiting[userID] = true
	} else {
		delete(b.awaiting, userID)
	}
}

func (b *Bot) reply(ctx context.Context, userID, text string) error {
	if err := b.out.SendText(ctx, userID, text); err != nil {
		return fmt.Errorf("replying to %s: %w", userID, err)
	}
	return nil
}

func (b *Bot) setTyping(ctx context.Context, userID string, on bool) {
	if err := b.out.SetTyping(ctx, userID, on); err != nil {
		b.logger.Debug("failed to set typing indicator", "user", userID, "error", err)
	}
}
