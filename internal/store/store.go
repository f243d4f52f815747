// Package store keeps an operator-facing ledger of finished completion
// sessions and submitted feedback. Nothing read back from it feeds into a
// live session.
package store

import (
	"context"

	"github.com/ashureev/overflowgpt/internal/domain"
)

// Repository defines the ledger operations.
type Repository interface {
	// RecordSession appends a finished session. Recording the same ID twice
	// overwrites the earlier row.
	RecordSession(ctx context.Context, rec *domain.SessionRecord) error

	// RecordFeedback appends a submitted rating.
	RecordFeedback(ctx context.Context, fb domain.Feedback) error

	// RecentSessions returns up to limit sessions, newest first.
	RecentSessions(ctx context.Context, limit int) ([]*domain.SessionRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
