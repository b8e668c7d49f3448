// ABOUTME: Directory and delivery-log interfaces plus the User and Delivery records
// ABOUTME: The directory maps a platform user to their pseudonym, chat and remote agent

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// User is a platform user known to the bot.
type User struct {
	ID        string // platform user id, opaque
	Pseudonym string
	AgentID   string // empty until provisioning succeeds
	ChatID    string // platform channel replies are sent to
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Provisioned reports whether the user has a remote agent bound.
func (u *User) Provisioned() bool {
	return u != nil && u.AgentID != ""
}

// DeliveryStatus is the outcome of one dequeued message.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered" // reply routed to the user
	DeliveryFailed    DeliveryStatus = "failed"    // remote call failed, apology sent
	DeliveryDropped   DeliveryStatus = "dropped"   // no agent bound, nothing sent upstream
)

// Delivery records what happened to a single queued message.
type Delivery struct {
	ID        string
	UserID    string
	AgentID   string
	Request   string
	Reply     string
	Status    DeliveryStatus
	Error     string
	CreatedAt time.Time
}

// Directory maps platform users to their profile and agent binding.
type Directory interface {
	// GetUser returns ErrNotFound for unknown users.
	GetUser(ctx context.Context, id string) (*User, error)
	// SaveUser inserts the user or updates pseudonym and chat id. AgentID is left untouched.
	SaveUser(ctx context.Context, user *User) error
	// SetAgentID binds (or, with "", unbinds) the user's agent.
	SetAgentID(ctx context.Context, id, agentID string) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, limit int) ([]*User, error)
}

// DeliveryLog keeps an audit trail of delivery attempts.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, userID string, limit int) ([]*Delivery, error)
}

// Store is the complete persistence surface.
type Store interface {
	Directory
	DeliveryLog

	// Close releases any resources held by the store
	Close() error
}
