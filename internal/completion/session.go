// Package completion runs one question through the completion API and
// relays the growing answer to a channel.
package completion

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/overflowgpt/internal/chatgpt"
	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/ashureev/overflowgpt/internal/sse"
	"github.com/google/uuid"
)

// DefaultCleanupTimeout bounds the hide request issued after a session ends.
const DefaultCleanupTimeout = 10 * time.Second

// Backend is the remote API a session talks to. *chatgpt.Client satisfies it.
type Backend interface {
	AccessToken(ctx context.Context) (string, error)
	Converse(ctx context.Context, token, question string) iter.Seq2[sse.Event, error]
	HideConversation(ctx context.Context, token, conversationID string) error
}

// Sink is the outbound half of a channel.
type Sink interface {
	Send(ctx context.Context, env domain.Envelope) error
}

// Recorder receives a summary of every finished session.
type Recorder interface {
	RecordSession(ctx context.Context, rec *domain.SessionRecord) error
}

// State is a step of the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateAcquiringCredential
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringCredential:
		return "acquiring_credential"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Options tunes a Session. The zero value is usable.
type Options struct {
	// CleanupTimeout bounds the hide request. Zero means DefaultCleanupTimeout.
	CleanupTimeout time.Duration
	// StreamTimeout, when positive, limits how long the stream may run.
	StreamTimeout time.Duration
	Recorder      Recorder
	Logger        *slog.Logger

	ClientID   string
	PortID     string
	QuestionID string
}

// Session is a single question/answer exchange. It is not reusable.
type Session struct {
	id      string
	backend Backend
	sink    Sink
	opts    Options
	logger  *slog.Logger

	mu             sync.Mutex
	state          State
	token          string
	conversationID string
	chunks         int
	hidden         bool

	hideOnce sync.Once
}

// New creates an idle session.
func New(backend Backend, sink Sink, opts Options) *Session {
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = DefaultCleanupTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		backend: backend,
		sink:    sink,
		opts:    opts,
		logger:  logger.With("session_id", id),
	}
}

// ID returns the session's local identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the last conversation id seen on the stream.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Run streams the answer to question onto the sink. ctx is the channel's
// lifetime: once it is done no more output is sent and Run returns nil.
// Any other failure is returned for the caller to report. The remote
// conversation is hidden before Run returns, whatever the outcome.
func (s *Session) Run(ctx context.Context, question string) error {
	started := time.Now()
	err := s.run(ctx, question)

	var outcome domain.Outcome
	switch {
	case err == nil:
		s.setState(StateCompleted)
		outcome = domain.OutcomeCompleted
	case ctx.Err() != nil:
		s.setState(StateCancelled)
		outcome = domain.OutcomeCancelled
		err = nil
	default:
		s.setState(StateFailed)
		outcome = domain.OutcomeFailed
	}

	s.Hide(ctx)

	ended := time.Now()
	sessionsTotal.WithLabelValues(string(outcome)).Inc()
	sessionDuration.WithLabelValues(string(outcome)).Observe(ended.Sub(started).Seconds())

	s.logger.Info("Completion session finished",
		"state", s.State().String(),
		"conversation_id", s.ConversationID(),
		"port_id", s.opts.PortID,
		"duration", ended.Sub(started),
	)
	s.record(ctx, outcome, err, started, ended)
	return err
}

func (s *Session) run(ctx context.Context, question string) error {
	s.setState(StateAcquiringCredential)
	token, err := s.backend.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("acquire credential: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.state = StateStreaming
	s.mu.Unlock()

	streamCtx := ctx
	if s.opts.StreamTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, s.opts.StreamTimeout)
		defer cancel()
	}

	for ev, err := range s.backend.Converse(streamCtx, token, question) {
		if err != nil {
			return err
		}
		if ev.Data == chatgpt.DoneSentinel {
			return nil
		}

		c, err := chatgpt.ParseCompletion(ev.Data)
		if err != nil {
			malformedEventsTotal.Inc()
			s.logger.Debug("Dropped unparseable event", "error", err)
			continue
		}

		convID := s.observe(c.ConversationID)
		text := c.Text()
		if text == "" {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out := domain.Output{Text: text, MessageID: c.MessageID(), ConversationID: convID}
		if err := s.sink.Send(ctx, domain.Wrap(out)); err != nil {
			return fmt.Errorf("forward output: %w", err)
		}
		outputChunksTotal.Inc()
		s.mu.Lock()
		s.chunks++
		s.mu.Unlock()
	}

	// The stream ended without the sentinel. Treat a clean close as the end
	// of the answer.
	return nil
}

// observe records a non-empty conversation id and returns the current one.
func (s *Session) observe(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversationID != "" {
		if s.conversationID != "" && s.conversationID != conversationID {
			s.logger.Warn("Conversation id changed mid-stream",
				"previous", s.conversationID,
				"conversation_id", conversationID,
			)
		}
		s.conversationID = conversationID
	}
	return s.conversationID
}

// Hide asks the backend to hide the observed conversation. Only the first
// call does anything, and it is a no-op when no conversation id was seen.
// The request outlives ctx's cancellation but is bounded by the cleanup
// timeout. Failures are logged and swallowed.
func (s *Session) Hide(ctx context.Context) {
	s.hideOnce.Do(func() {
		s.mu.Lock()
		token, convID := s.token, s.conversationID
		s.mu.Unlock()

		if convID == "" {
			cleanupTotal.WithLabelValues("skipped").Inc()
			return
		}

		hideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CleanupTimeout)
		defer cancel()

		if err := s.backend.HideConversation(hideCtx, token, convID); err != nil {
			cleanupTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Failed to hide conversation", "conversation_id", convID, "error", err)
			return
		}

		cleanupTotal.WithLabelValues("ok").Inc()
		s.mu.Lock()
		s.hidden = true
		s.mu.Unlock()
		s.logger.Debug("Hid conversation", "conversation_id", convID)
	})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) record(ctx context.Context, outcome domain.Outcome, runErr error, started, ended time.Time) {
	if s.opts.Recorder == nil {
		return
	}

	s.mu.Lock()
	rec := &domain.SessionRecord{
		ID:             s.id,
		ClientID:       s.opts.ClientID,
		PortID:         s.opts.PortID,
		QuestionID:     s.opts.QuestionID,
		ConversationID: s.conversationID,
		Outcome:        outcome,
		Chunks:         s.chunks,
		Hidden:         s.hidden,
		StartedAt:      started,
		EndedAt:        ended,
	}
	s.mu.Unlock()
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CleanupTimeout)
	defer cancel()
	if err := s.opts.Recorder.RecordSession(recCtx, rec); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Failed to record session", "error", err)
	}
}
