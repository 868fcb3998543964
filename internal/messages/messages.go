// Package messages is the append-only log of everything said in a session.
// The dialog engine replays recent history as LLM context; nothing ever
// updates or deletes a row.
package messages

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/citabot/citabot/internal/storage"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Message struct {
	ID          uuid.UUID
	SessionID   uuid.UUID
	TenantID    uuid.UUID
	Direction   Direction
	Body        string
	ProviderSID string
	CreatedAt   time.Time
}

// Repository methods take the storage.Querier to run against, so inbound
// and outbound log writes join the turn's transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Add appends a message to the log.
func (r *Repository) Add(ctx context.Context, q storage.Querier, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO messages (id, session_id, tenant_id, direction, body, provider_sid)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SessionID, msg.TenantID, msg.Direction, msg.Body, msg.ProviderSID)
	if err != nil {
		return fmt.Errorf("messages: add: %w", err)
	}
	return nil
}

// History returns the session's most recent messages in chronological
// order, at most limit of them.
func (r *Repository) History(ctx context.Context, q storage.Querier, sessionID uuid.UUID, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.Query(ctx, `
		SELECT id, session_id, tenant_id, direction, body, provider_sid, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages: history: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.TenantID, &m.Direction,
			&m.Body, &m.ProviderSID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messages: scan: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messages: history: %w", err)
	}

	// Fetched newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
