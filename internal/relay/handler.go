// Package relay carries envelopes between page channels and completion
// sessions.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/overflowgpt/internal/chatgpt"
	"github.com/ashureev/overflowgpt/internal/completion"
	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/ashureev/overflowgpt/internal/identity"
	"github.com/ashureev/overflowgpt/internal/middleware"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// DefaultPortName is the channel name the content script opens.
const DefaultPortName = "main-port"

const maxEnvelopeSize = 1 << 20

// Chat is the remote API surface a channel drives.
type Chat interface {
	completion.Backend
	Credentials
	SendFeedback(ctx context.Context, token string, fb domain.Feedback) error
}

// Ledger records finished sessions and feedback.
type Ledger interface {
	completion.Recorder
	RecordFeedback(ctx context.Context, fb domain.Feedback) error
}

// Options configures a Handler.
type Options struct {
	AllowedOrigins []string
	// Dev accepts any origin.
	Dev            bool
	CleanupTimeout time.Duration
	StreamTimeout  time.Duration
	Logger         *slog.Logger
}

// Handler serves page channels over websockets.
type Handler struct {
	chat     Chat
	ledger   Ledger
	registry *Registry
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a channel handler. ledger may be nil.
func NewHandler(chat Chat, ledger Ledger, registry *Registry, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chat:     chat,
		ledger:   ledger,
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

// ServeHTTP upgrades the request to a channel and serves it until the page
// disconnects. It returns only after every session started on the channel
// has finished its cleanup.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	portID := identity.PortIDFromContext(r.Context())
	name := r.URL.Query().Get("name")
	if name == "" {
		name = DefaultPortName
	}
	channelID := uuid.NewString()
	logger := h.logger.With("client_id", clientID, "port_id", portID, "channel_id", channelID, "name", name)
	logger.Info("Channel connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(maxEnvelopeSize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "channel ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.registry.Register(clientID, channelID, ws)
	defer h.registry.Unregister(clientID, channelID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := &channel{
		Handler:  h,
		sink:     &connSink{conn: ws, cancel: cancel},
		clientID: clientID,
		portID:   portID,
		logger:   logger,
	}
	ch.readLoop(ctx, ws)

	cancel()
	ch.wg.Wait()
	logger.Info("Channel closed")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.Dev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || middleware.OriginAllowed(h.opts.AllowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigins)
	return false
}

// channel is the per-connection state of a Handler.
type channel struct {
	*Handler
	sink     completion.Sink
	clientID string
	portID   string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func (c *channel) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				c.logger.Debug("Channel closed by peer")
			} else {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		env, err := domain.DecodeEnvelope(data, domain.Inbound)
		if err != nil {
			rejectedEnvelopesTotal.Inc()
			c.logger.Warn("Ignoring inbound envelope", "error", err)
			continue
		}
		envelopesTotal.WithLabelValues(string(env.Key())).Inc()

		// Each message runs independently; a second question does not wait
		// for or cancel the first.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.dispatch(ctx, env)
		}()
	}
}

func (c *channel) dispatch(ctx context.Context, env domain.Envelope) {
	switch p := env.Payload.(type) {
	case domain.ScrapedQuestion:
		c.ask(ctx, p)
	case domain.Feedback:
		c.feedback(ctx, p)
	case domain.CheckAccess:
		if err := c.sink.Send(ctx, CheckAccess(ctx, c.chat)); err != nil {
			c.logger.Debug("Failed to answer access check", "error", err)
		}
	}
}

func (c *channel) ask(ctx context.Context, q domain.ScrapedQuestion) {
	opts := completion.Options{
		CleanupTimeout: c.opts.CleanupTimeout,
		StreamTimeout:  c.opts.StreamTimeout,
		Logger:         c.logger,
		ClientID:       c.clientID,
		PortID:         c.portID,
		QuestionID:     q.QuestionID,
	}
	if c.ledger != nil {
		opts.Recorder = c.ledger
	}

	s := completion.New(c.chat, c.sink, opts)
	c.logger.Info("Starting completion session", "session_id", s.ID(), "question_id", q.QuestionID)
	if err := s.Run(ctx, q.Text); err != nil {
		c.reportError(ctx, err)
	}
}

// feedback forwards a rating. The page may close its channel right after
// sending, so the request is bounded by the cleanup timeout rather than the
// channel.
func (c *channel) feedback(ctx context.Context, fb domain.Feedback) {
	fb.ClientID = c.clientID
	fb.SubmittedAt = time.Now()

	timeout := c.opts.CleanupTimeout
	if timeout <= 0 {
		timeout = completion.DefaultCleanupTimeout
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	token, err := c.chat.AccessToken(fctx)
	if err != nil {
		c.reportError(ctx, err)
		return
	}
	if err := c.chat.SendFeedback(fctx, token, fb); err != nil {
		c.reportError(ctx, err)
		return
	}
	c.logger.Info("Forwarded feedback", "message_id", fb.MessageID, "conversation_id", fb.ConversationID, "rating", fb.Rating)

	if c.ledger != nil {
		if err := c.ledger.RecordFeedback(fctx, fb); err != nil {
			c.logger.Warn("Failed to record feedback", "error", err)
		}
	}
}

// reportError surfaces err to the page and drops the cached credential.
// Nothing is reported once the channel itself has closed; a cancellation
// error from anywhere else is still a failure of this channel's request.
func (c *channel) reportError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}

	c.chat.Invalidate()
	reportedErrorsTotal.Inc()
	c.logger.Warn("Reporting error to page", "error", err)

	msg := domain.ErrorMessage{Message: chatgpt.DisplayMessage(err)}
	if sendErr := c.sink.Send(ctx, domain.Wrap(msg)); sendErr != nil {
		c.logger.Debug("Failed to send error envelope", "error", sendErr)
	}
}
