// ABOUTME: User directory queries for SQLStore
// ABOUTME: Upserts profile fields separately from the agent binding

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `platform_user_id, pseudonym, agent_id, chat_id, created_at, updated_at`

// GetUser retrieves a user by platform id.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE platform_user_id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// SaveUser inserts a user or refreshes pseudonym and chat id for an existing one.
func (s *SQLStore) SaveUser(ctx context.Context, user *User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.exec(ctx, `
		INSERT INTO users (platform_user_id, pseudonym, agent_id, chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform_user_id) DO UPDATE SET
			pseudonym = excluded.pseudonym,
			chat_id = excluded.chat_id,
			updated_at = excluded.updated_at
	`,
		user.ID,
		user.Pseudonym,
		nullString(user.AgentID),
		nullString(user.ChatID),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	return nil
}

// SetAgentID binds agentID to the user. An empty agentID clears the binding.
func (s *SQLStore) SetAgentID(ctx context.Context, id, agentID string) error {
	res, err := s.exec(ctx,
		`UPDATE users SET agent_id = ?, updated_at = ? WHERE platform_user_id = ?`,
		nullString(agentID), formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("setting agent id: %w", err)
	}
	return requireAffected(res)
}

// DeleteUser removes the user and their delivery history.
func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM users WHERE platform_user_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := s.exec(ctx, `DELETE FROM deliveries WHERE platform_user_id = ?`, id); err != nil {
		return fmt.Errorf("deleting deliveries: %w", err)
	}
	return nil
}

// ListUsers returns users newest first. A limit <= 0 returns all of them.
func (s *SQLStore) ListUsers(ctx context.Context, limit int) ([]*User, error) {
	q := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, platform_user_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                  User
		agentID, chatID    sql.NullString
		createdAt, updated string
	)
	if err := row.Scan(&u.ID, &u.Pseudonym, &agentID, &chatID, &createdAt, &updated); err != nil {
		return nil, err
	}
	u.AgentID = agentID.String
	u.ChatID = chatID.String

	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &u, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
