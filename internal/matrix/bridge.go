// ABOUTME: Matrix bridge: syncs with the homeserver and routes DMs to the bot handler
// ABOUTME: Also implements outbound sending so the delivery loop can answer users

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/fixie-bridge/internal/bot"
	"github.com/2389/fixie-bridge/internal/dedupe"
	"github.com/2389/fixie-bridge/internal/store"
)

// Config holds Matrix connection and filtering settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string // used as-is when set
	Username    string // password login when no access token
	Password    string
	DeviceName  string

	AllowedUsers    []string // empty allows everyone
	CommandPrefix   string   // when set, messages must start with it
	TypingIndicator bool
}

// Handler consumes inbound user messages.
type Handler interface {
	Handle(ctx context.Context, msg bot.Message) error
}

// typingTimeout is how long a typing indicator lasts without a refresh.
const typingTimeout = 30 * time.Second

// sendTimeout bounds a single outbound Matrix call.
const sendTimeout = 30 * time.Second

// Bridge connects Matrix to the bot.
type Bridge struct {
	cfg     Config
	matrix  *mautrix.Client
	dir     store.Directory
	handler Handler
	seen    *dedupe.Cache
	logger  *slog.Logger

	// rooms maps a user id to the room their conversation happens in
	rooms sync.Map

	mu      sync.Mutex
	inboxes map[string]*inbox

	ctx       context.Context
	startedAt time.Time
}

// NewBridge creates a bridge. dir supplies remembered rooms after a restart.
func NewBridge(cfg Config, dir store.Directory, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "fixie-bridge"
	}

	return &Bridge{
		cfg:     cfg,
		matrix:  client,
		dir:     dir,
		seen:    dedupe.New(10*time.Minute, 10_000),
		logger:  logger.With("component", "matrix"),
		inboxes: make(map[string]*inbox),
		ctx:     context.Background(),
	}, nil
}

// SetHandler installs the inbound handler. Must be called before Run.
func (b *Bridge) SetHandler(h Handler) {
	b.handler = h
}

// Client exposes the underlying mautrix client for crypto setup.
func (b *Bridge) Client() *mautrix.Client {
	return b.matrix
}

// UserID returns the bot's own Matrix id.
func (b *Bridge) UserID() string {
	return b.matrix.UserID.String()
}

// Login authenticates. With an access token it only resolves the device id;
// otherwise it performs a password login and stores the credentials.
func (b *Bridge) Login(ctx context.Context) error {
	if b.cfg.AccessToken != "" {
		who, err := b.matrix.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("validating access token: %w", err)
		}
		b.matrix.UserID = who.UserID
		b.matrix.DeviceID = who.DeviceID
		b.logger.Info("using access token", "user_id", who.UserID, "device_id", who.DeviceID)
		return nil
	}

	if b.cfg.Username == "" || b.cfg.Password == "" {
		return errors.New("matrix login needs an access token or username and password")
	}
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.cfg.Username,
		},
		Password:                 b.cfg.Password,
		InitialDeviceDisplayName: b.cfg.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}
	b.logger.Info("logged in", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// Run syncs until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if b.handler == nil {
		return errors.New("matrix bridge has no handler")
	}
	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.UserID(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.start(ctx)
	defer b.seen.Close()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnSync(b.matrix.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// start records the processing context and the cutoff for stale events.
func (b *Bridge) start(ctx context.Context) {
	b.ctx = ctx
	b.startedAt = time.Now()
}

// handleMemberEvent joins rooms the bot is invited to.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.matrix.UserID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if !b.isUserAllowed(evt.Sender.String()) {
		b.logger.Info("ignoring invite from non-allowed user", "room", evt.RoomID.String(), "sender", evt.Sender.String())
		return
	}

	if _, err := b.matrix.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Error("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.rooms.Store(evt.Sender.String(), evt.RoomID)
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// handleMessageEvent filters inbound messages and hands them to the user's inbox.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.matrix.UserID {
		return
	}
	if b.seen.CheckAndMark(evt.ID.String()) {
		return
	}
	if evt.Timestamp < b.startedAt.UnixMilli() {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	sender := evt.Sender.String()
	if !b.isUserAllowed(sender) {
		b.logger.Debug("ignoring message from non-allowed user", "sender", sender)
		return
	}

	body := content.Body
	if b.cfg.CommandPrefix != "" {
		if !strings.HasPrefix(body, b.cfg.CommandPrefix) {
			return
		}
		body = strings.TrimSpace(strings.TrimPrefix(body, b.cfg.CommandPrefix))
	}
	if body == "" {
		return
	}

	b.rooms.Store(sender, evt.RoomID)
	b.logger.Info("received message",
		"room", evt.RoomID.String(),
		"sender", sender,
		"content", truncate(body, 50),
	)

	b.dispatch(bot.Message{UserID: sender, ChatID: evt.RoomID.String(), Text: body})
}

// inbox is an unbounded per-user backlog between sync and handler.
type inbox struct {
	mu      sync.Mutex
	pending []bot.Message
	wake    chan struct{}
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (in *inbox) push(msg bot.Message) {
	in.mu.Lock()
	in.pending = append(in.pending, msg)
	in.mu.Unlock()

	select {
	case in.wake <- struct{}{}:
	default:
	}
}

func (in *inbox) pop() (bot.Message, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.pending) == 0 {
		return bot.Message{}, false
	}
	msg := in.pending[0]
	in.pending[0] = bot.Message{}
	in.pending = in.pending[1:]
	return msg, true
}

// dispatch appends msg to the sender's inbox, starting its worker on first use.
// One worker per user keeps each user's messages in order without blocking sync.
func (b *Bridge) dispatch(msg bot.Message) {
	b.mu.Lock()
	in, ok := b.inboxes[msg.UserID]
	if !ok {
		in = newInbox()
		b.inboxes[msg.UserID] = in
		go b.work(b.ctx, in)
	}
	b.mu.Unlock()

	in.push(msg)
}

func (b *Bridge) work(ctx context.Context, in *inbox) {
	for {
		msg, ok := in.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-in.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := b.handler.Handle(ctx, msg); err != nil {
			b.logger.Error("handling message failed", "sender", msg.UserID, "error", err)
		}
	}
}

func (b *Bridge) isUserAllowed(userID string) bool {
	if len(b.cfg.AllowedUsers) == 0 {
		return true
	}
	for _, allowed := range b.cfg.AllowedUsers {
		if allowed == userID {
			return true
		}
	}
	return false
}

// SendText sends text to the user's conversation room, opening a DM if none is known.
func (b *Bridge) SendText(ctx context.Context, userID, text string) error {
	room, err := b.roomFor(ctx, userID, true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := b.matrix.SendMessageEvent(ctx, room, event.EventMessage, formatContent(text)); err != nil {
		return fmt.Errorf("sending to %s: %w", room, err)
	}
	return nil
}

// SetTyping toggles the typing indicator in the user's room when one is known.
func (b *Bridge) SetTyping(ctx context.Context, userID string, typing bool) error {
	if !b.cfg.TypingIndicator {
		return nil
	}
	room, err := b.roomFor(ctx, userID, false)
	if err != nil {
		return err
	}

	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, err = b.matrix.UserTyping(ctx, room, typing, timeout)
	return err
}

// roomFor resolves the user's room from memory, then the directory, then
// (if create is set) by opening a new direct chat.
func (b *Bridge) roomFor(ctx context.Context, userID string, create bool) (id.RoomID, error) {
	if v, ok := b.rooms.Load(userID); ok {
		return v.(id.RoomID), nil
	}

	user, err := b.dir.GetUser(ctx, userID)
	switch {
	case err == nil && user.ChatID != "":
		room := id.RoomID(user.ChatID)
		b.rooms.Store(userID, room)
		return room, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("looking up room for %s: %w", userID, err)
	}

	if !create {
		return "", fmt.Errorf("no known room for %s", userID)
	}

	resp, err := b.matrix.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Invite:   []id.UserID{id.UserID(userID)},
		IsDirect: true,
		Preset:   "trusted_private_chat",
	})
	if err != nil {
		return "", fmt.Errorf("opening direct chat with %s: %w", userID, err)
	}
	b.rooms.Store(userID, resp.RoomID)
	b.logger.Info("opened direct chat", "user", userID, "room", resp.RoomID.String())

	if user != nil {
		user.ChatID = resp.RoomID.String()
		if err := b.dir.SaveUser(ctx, user); err != nil {
			b.logger.Warn("failed to remember room", "user", userID, "error", err)
		}
	}
	return resp.RoomID, nil
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
