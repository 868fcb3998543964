package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a chat session. Sessions only ever move
// active -> inactive; an inactive session is superseded, never resumed.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Flow identifies the multi-turn task a session is progressing through.
type Flow string

const (
	FlowNone       Flow = "none"
	FlowScheduling Flow = "scheduling"
	FlowCancelling Flow = "cancelling"
)

// CancelStage is the sub-state of a cancellation flow.
type CancelStage string

const (
	CancelStageTarget  CancelStage = "target"
	CancelStageConfirm CancelStage = "confirm"
)

// CancelState carries the appointment pending cancellation. ScheduledFor is
// the instant resolved when the target was captured; the confirmation step
// reuses it verbatim instead of re-parsing the user's phrase.
type CancelState struct {
	Stage         CancelStage `json:"stage"`
	AppointmentID int64       `json:"appointment_id,omitempty"`
	ScheduledFor  *time.Time  `json:"scheduled_for,omitempty"`
}

// State is the typed flow-progress record persisted per session. Transition
// logic keys off Flow and CancelState.Stage only; there are no independent
// "waiting for X" booleans to drift out of sync.
type State struct {
	Flow    Flow              `json:"flow"`
	Filled  map[string]string `json:"filled,omitempty"`
	Pending []string          `json:"pending,omitempty"`
	Cancel  *CancelState      `json:"cancel,omitempty"`
}

// NewState returns an idle flow state.
func NewState() State {
	return State{Flow: FlowNone}
}

// NextPending returns the first slot key still awaiting a value.
func (s *State) NextPending() (string, bool) {
	if len(s.Pending) == 0 {
		return "", false
	}
	return s.Pending[0], true
}

// FillSlot records a collected value and removes the key from the pending
// list wherever it sits.
func (s *State) FillSlot(key, value string) {
	if s.Filled == nil {
		s.Filled = make(map[string]string)
	}
	s.Filled[key] = value

	pending := s.Pending[:0]
	for _, k := range s.Pending {
		if k != key {
			pending = append(pending, k)
		}
	}
	s.Pending = pending
}

// ReopenSlot clears a previously collected value and puts the key at the
// front of the pending list. Used when an availability conflict invalidates
// only the datetime.
func (s *State) ReopenSlot(key string) {
	delete(s.Filled, key)
	for _, k := range s.Pending {
		if k == key {
			return
		}
	}
	s.Pending = append([]string{key}, s.Pending...)
}

// Complete reports whether every required slot has been collected.
func (s *State) Complete() bool {
	return s.Flow == FlowScheduling && len(s.Pending) == 0
}

// Session is the durable per-(user, tenant) conversation record.
type Session struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	UserID       string
	Status       Status
	State        State
	Facts        map[string]string
	StartedAt    time.Time
	LastActivity time.Time
}

// Fact keys persisted across flows.
const (
	FactClientName        = "client_name"
	FactConversationState = "conversation_state"
)

// ClientName returns the durably-known client name, if any.
func (s *Session) ClientName() string {
	return s.Facts[FactClientName]
}

// SetFact records a durable fact about the user.
func (s *Session) SetFact(key, value string) {
	if s.Facts == nil {
		s.Facts = make(map[string]string)
	}
	s.Facts[key] = value
}

// Reset clears all flow progress. The client name survives when preserveName
// is set so completed flows do not re-ask for it.
func (s *Session) Reset(preserveName bool) {
	s.State = NewState()
	if !preserveName {
		delete(s.Facts, FactClientName)
	}
}
