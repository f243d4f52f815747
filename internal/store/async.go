package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/overflowgpt/internal/domain"
)

const (
	DefaultLedgerQueueSize = 256
	ledgerWriteTimeout     = 5 * time.Second
	ledgerCloseTimeout     = 5 * time.Second
)

// ErrLedgerClosed is returned for writes after Close.
var ErrLedgerClosed = errors.New("ledger closed")

type ledgerWrite struct {
	session  *domain.SessionRecord
	feedback *domain.Feedback
}

// AsyncLedger queues ledger writes for a background worker so that callers
// never wait on SQLite. When the queue is full the oldest pending write is
// dropped.
type AsyncLedger struct {
	repo   Repository
	queue  chan ledgerWrite
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncLedger starts a worker writing to repo.
func NewAsyncLedger(repo Repository, queueSize int, logger *slog.Logger) *AsyncLedger {
	if queueSize <= 0 {
		queueSize = DefaultLedgerQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &AsyncLedger{
		repo:   repo,
		queue:  make(chan ledgerWrite, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.process()
	return l
}

// RecordSession queues rec.
func (l *AsyncLedger) RecordSession(_ context.Context, rec *domain.SessionRecord) error {
	return l.enqueue(ledgerWrite{session: rec})
}

// RecordFeedback queues fb.
func (l *AsyncLedger) RecordFeedback(_ context.Context, fb domain.Feedback) error {
	return l.enqueue(ledgerWrite{feedback: &fb})
}

func (l *AsyncLedger) enqueue(w ledgerWrite) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLedgerClosed
	}

	select {
	case l.queue <- w:
		return nil
	default:
	}

	// Queue full: drop the oldest pending write to make room.
	select {
	case <-l.queue:
		ledgerDroppedTotal.Inc()
		l.logger.Warn("Ledger queue full, dropped oldest write", "queue_len", len(l.queue))
	default:
	}

	select {
	case l.queue <- w:
	default:
		ledgerDroppedTotal.Inc()
		l.logger.Warn("Ledger queue full, dropped write")
	}
	return nil
}

func (l *AsyncLedger) process() {
	defer close(l.done)

	for w := range l.queue {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)

		var err error
		switch {
		case w.session != nil:
			err = l.repo.RecordSession(ctx, w.session)
		case w.feedback != nil:
			err = l.repo.RecordFeedback(ctx, *w.feedback)
		}
		cancel()

		if err != nil {
			l.logger.Warn("Ledger write failed", "error", err)
		}
		if d := time.Since(start); d > 100*time.Millisecond {
			l.logger.Warn("Slow ledger write", "duration_ms", d.Milliseconds())
		}
	}
}

// Close stops accepting writes and waits for the queued ones to be flushed.
// The underlying repository is left open.
func (l *AsyncLedger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	pending := len(l.queue)
	close(l.queue)
	l.mu.Unlock()

	select {
	case <-l.done:
		l.logger.Debug("Ledger flushed", "writes", pending)
		return nil
	case <-time.After(ledgerCloseTimeout):
		l.logger.Warn("Ledger flush timed out", "pending", len(l.queue))
		return errors.New("ledger flush timed out")
	}
}
