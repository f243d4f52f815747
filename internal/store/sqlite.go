package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/overflowgpt/internal/domain"
	_ "modernc.org/sqlite"
)

// MaxRecentSessions caps RecentSessions.
const MaxRecentSessions = 500

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		client_id TEXT,
		port_id TEXT,
		question_id TEXT,
		conversation_id TEXT,
		outcome TEXT NOT NULL,
		chunks INTEGER NOT NULL DEFAULT 0,
		hidden INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT,
		message_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		question_id TEXT,
		rating TEXT NOT NULL,
		submitted_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_conversation ON feedback(conversation_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordSession stores a finished session.
func (s *SQLiteStore) RecordSession(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
	INSERT INTO sessions (id, client_id, port_id, question_id, conversation_id,
		outcome, chunks, hidden, error, started_at, ended_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		conversation_id = excluded.conversation_id,
		outcome = excluded.outcome,
		chunks = excluded.chunks,
		hidden = excluded.hidden,
		error = excluded.error,
		ended_at = excluded.ended_at`

	err := withBusyRetry(ctx, "record_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, nullable(rec.ClientID), nullable(rec.PortID), nullable(rec.QuestionID),
			nullable(rec.ConversationID), string(rec.Outcome), rec.Chunks, rec.Hidden,
			nullable(rec.Error), rec.StartedAt.UnixMilli(), rec.EndedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record session %s: %w", rec.ID, err)
	}
	return nil
}

// RecordFeedback stores a submitted rating.
func (s *SQLiteStore) RecordFeedback(ctx context.Context, fb domain.Feedback) error {
	submitted := fb.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}

	query := `
	INSERT INTO feedback (client_id, message_id, conversation_id, question_id, rating, submitted_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	err := withBusyRetry(ctx, "record_feedback", func() error {
		_, err := s.db.ExecContext(ctx, query,
			nullable(fb.ClientID), fb.MessageID, fb.ConversationID,
			nullable(fb.QuestionID), string(fb.Rating), submitted.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	return nil
}

// RecentSessions returns the newest sessions first.
func (s *SQLiteStore) RecentSessions(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	if limit <= 0 || limit > MaxRecentSessions {
		limit = MaxRecentSessions
	}

	query := `
		SELECT id, client_id, port_id, question_id, conversation_id,
		       outcome, chunks, hidden, error, started_at, ended_at
		FROM sessions ORDER BY ended_at DESC, id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent sessions rows", "error", closeErr)
		}
	}()

	var records []*domain.SessionRecord
	for rows.Next() {
		var rec domain.SessionRecord
		var clientID, portID, questionID, convID, errText sql.NullString
		var outcome string
		var startedAt, endedAt int64

		if err := rows.Scan(
			&rec.ID, &clientID, &portID, &questionID, &convID,
			&outcome, &rec.Chunks, &rec.Hidden, &errText, &startedAt, &endedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		rec.ClientID = clientID.String
		rec.PortID = portID.String
		rec.QuestionID = questionID.String
		rec.ConversationID = convID.String
		rec.Outcome = domain.Outcome(outcome)
		rec.Error = errText.String
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.EndedAt = time.UnixMilli(endedAt)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
