// ABOUTME: Delivery log queries for SQLStore
// ABOUTME: One row per dequeued message with its final status

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordDelivery appends a delivery record. ID and CreatedAt are filled in when empty.
func (s *SQLStore) RecordDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO deliveries (delivery_id, platform_user_id, agent_id, request, reply, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.UserID,
		nullString(d.AgentID),
		d.Request,
		nullString(d.Reply),
		string(d.Status),
		nullString(d.Error),
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("recording delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns a user's deliveries newest first.
func (s *SQLStore) ListDeliveries(ctx context.Context, userID string, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `
		SELECT delivery_id, platform_user_id, agent_id, request, reply, status, error, created_at
		FROM deliveries
		WHERE platform_user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var (
			d                      Delivery
			agentID, reply, errStr sql.NullString
			status, createdAt      string
		)
		if err := rows.Scan(&d.ID, &d.UserID, &agentID, &d.Request, &reply, &status, &errStr, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		d.AgentID = agentID.String
		d.Reply = reply.String
		d.Error = errStr.String
		d.Status = DeliveryStatus(status)
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
