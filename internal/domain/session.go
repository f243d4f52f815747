package domain

import (
	"time"
)

// Outcome is the terminal state of a completion session.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// SessionRecord summarises one finished completion session for the ledger.
type SessionRecord struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id,omitempty"`
	PortID         string    `json:"port_id,omitempty"`
	QuestionID     string    `json:"question_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	Chunks         int       `json:"chunks"`
	Hidden         bool      `json:"hidden"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// Duration returns how long the session ran.
func (r *SessionRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
