package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/citabot/citabot/internal/storage"
)

// DefaultIdleTimeout is how long a session survives without activity before
// it is superseded by a fresh one.
const DefaultIdleTimeout = 30 * time.Minute

// Store owns chat session persistence. Callers pass the querier so lookups
// and mutations participate in the per-message transaction.
type Store struct {
	idleTimeout time.Duration
}

// NewStore creates a session store with the given inactivity window.
func NewStore(idleTimeout time.Duration) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Store{idleTimeout: idleTimeout}
}

const sessionColumns = `id, tenant_id, user_id, status, state, facts, started_at, last_activity`

// GetOrCreate returns the live session for (tenant, user), expiring a stale
// one and creating a replacement in the same statement sequence. The row is
// locked FOR UPDATE so two concurrent deliveries cannot both decide to spawn
// a fresh session; run it inside the message transaction.
func (st *Store) GetOrCreate(ctx context.Context, q storage.Querier, tenantID uuid.UUID, userID string, now time.Time) (*Session, error) {
	row := q.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE tenant_id = $1 AND user_id = $2 AND status = 'active'
		ORDER BY last_activity DESC
		LIMIT 1
		FOR UPDATE
	`, tenantID, userID)

	existing, err := scanSession(row)
	switch {
	case err == nil:
		if now.Sub(existing.LastActivity) <= st.idleTimeout {
			existing.LastActivity = now
			if _, err := q.Exec(ctx,
				`UPDATE chat_sessions SET last_activity = $1 WHERE id = $2`,
				now, existing.ID); err != nil {
				return nil, fmt.Errorf("session: touch: %w", err)
			}
			return existing, nil
		}
		if _, err := q.Exec(ctx,
			`UPDATE chat_sessions SET status = 'inactive' WHERE id = $1`,
			existing.ID); err != nil {
			return nil, fmt.Errorf("session: expire: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to create
	default:
		return nil, err
	}

	fresh := &Session{
		ID:           uuid.New(),
		TenantID:     tenantID,
		UserID:       userID,
		Status:       StatusActive,
		State:        NewState(),
		Facts:        make(map[string]string),
		StartedAt:    now,
		LastActivity: now,
	}
	state, facts, err := encodeSession(fresh)
	if err != nil {
		return nil, err
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO chat_sessions (id, tenant_id, user_id, status, state, facts, started_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, fresh.ID, fresh.TenantID, fresh.UserID, fresh.Status, state, facts,
		fresh.StartedAt, fresh.LastActivity); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return fresh, nil
}

// Save writes the session's flow state and facts back and bumps
// last_activity. The write is always explicit; there is no mutation
// tracking to forget.
func (st *Store) Save(ctx context.Context, q storage.Querier, s *Session, now time.Time) error {
	state, facts, err := encodeSession(s)
	if err != nil {
		return err
	}
	s.LastActivity = now
	tag, err := q.Exec(ctx, `
		UPDATE chat_sessions
		SET status = $1, state = $2, facts = $3, last_activity = $4
		WHERE id = $5
	`, s.Status, state, facts, now, s.ID)
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session: save: session %s not found", s.ID)
	}
	return nil
}

func encodeSession(s *Session) (state []byte, facts []byte, err error) {
	state, err = json.Marshal(s.State)
	if err != nil {
		return nil, nil, fmt.Errorf("session: encode state: %w", err)
	}
	if s.Facts == nil {
		s.Facts = make(map[string]string)
	}
	facts, err = json.Marshal(s.Facts)
	if err != nil {
		return nil, nil, fmt.Errorf("session: encode facts: %w", err)
	}
	return state, facts, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var state, facts []byte
	err := row.Scan(&s.ID, &s.TenantID, &s.UserID, &s.Status, &state, &facts,
		&s.StartedAt, &s.LastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("session: scan: %w", err)
	}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &s.State); err != nil {
			return nil, fmt.Errorf("session: decode state: %w", err)
		}
	}
	if s.State.Flow == "" {
		s.State.Flow = FlowNone
	}
	s.Facts = make(map[string]string)
	if len(facts) > 0 {
		if err := json.Unmarshal(facts, &s.Facts); err != nil {
			return nil, fmt.Errorf("session: decode facts: %w", err)
		}
	}
	return &s, nil
}
