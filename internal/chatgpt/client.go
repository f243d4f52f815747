// Package chatgpt talks to the ChatGPT web backend: it harvests the session
// access token, opens conversation streams, hides finished conversations and
// forwards answer feedback.
package chatgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/overflowgpt/internal/credential"
	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/ashureev/overflowgpt/internal/sse"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSessionURL = "https://chat.openai.com/api/auth/session"
	DefaultAPIURL     = "https://chat.openai.com/backend-api"
	DefaultModel      = "text-davinci-002-render"

	tokenFetchTimeout = 30 * time.Second
)

var (
	// ErrChallengeRequired means the session endpoint answered 403, i.e. the
	// anti-bot check has to be passed in a browser first.
	ErrChallengeRequired = errors.New("cloudflare challenge required")
	// ErrUnauthorized means the session endpoint answered without a token.
	ErrUnauthorized = errors.New("no access token in session")
)

// Config configures a Client. Zero fields take the defaults above.
type Config struct {
	SessionURL string
	APIURL     string
	Model      string
	HTTPClient *http.Client
	Cache      *credential.Cache
	Logger     *slog.Logger
}

// Client is safe for concurrent use. All sessions share its credential cache.
type Client struct {
	sessionURL string
	apiURL     string
	model      string
	http       *http.Client
	cache      *credential.Cache
	flight     singleflight.Group
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	c := &Client{
		sessionURL: cfg.SessionURL,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		model:      cfg.Model,
		http:       cfg.HTTPClient,
		cache:      cfg.Cache,
		logger:     cfg.Logger,
	}
	if c.sessionURL == "" {
		c.sessionURL = DefaultSessionURL
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.cache == nil {
		c.cache = credential.NewCache(credential.DefaultTTL, nil)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// AccessToken returns the cached token or fetches a fresh one from the
// session endpoint. Concurrent callers that miss the cache share one fetch.
// The shared fetch is not bound to any caller's ctx, so a caller going away
// only abandons its own wait; the fetch is bounded by tokenFetchTimeout.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if cred, ok := c.cache.Get(); ok {
		return cred.Token, nil
	}

	ch := c.flight.DoChan(credential.Key, func() (any, error) {
		if cred, ok := c.cache.Get(); ok {
			return cred.Token, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()
		return c.fetchAccessToken(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Debug("Shared in-flight access token fetch")
		}
		return res.Val.(string), nil
	}
}

func (c *Client) fetchAccessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sessionURL, nil)
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		credentialFetchTotal.WithLabelValues("transport_error").Inc()
		return "", fmt.Errorf("fetch session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		credentialFetchTotal.WithLabelValues("challenge").Inc()
		return "", ErrChallengeRequired
	}

	var session struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&session); err != nil || session.AccessToken == "" {
		credentialFetchTotal.WithLabelValues("unauthorized").Inc()
		return "", ErrUnauthorized
	}

	c.cache.Set(session.AccessToken)
	credentialFetchTotal.WithLabelValues("ok").Inc()
	c.logger.Debug("Fetched access token", "ttl", c.cache.TTL())
	return session.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *Client) Invalidate() {
	c.cache.Invalidate()
}

type conversationRequest struct {
	Action          string           `json:"action"`
	Messages        []requestMessage `json:"messages"`
	Model           string           `json:"model"`
	ParentMessageID string           `json:"parent_message_id"`
}

type requestMessage struct {
	ID      string         `json:"id"`
	Role    string         `json:"role"`
	Content requestContent `json:"content"`
}

type requestContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// Converse starts a new conversation with question as the only message and
// yields the raw completion events. Every call uses fresh message and parent
// ids.
func (c *Client) Converse(ctx context.Context, token, question string) iter.Seq2[sse.Event, error] {
	body := conversationRequest{
		Action: "next",
		Messages: []requestMessage{{
			ID:   uuid.NewString(),
			Role: "user",
			Content: requestContent{
				ContentType: "text",
				Parts:       []string{question},
			},
		}},
		Model:           c.model,
		ParentMessageID: uuid.NewString(),
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, c.apiURL+"/conversation", token, body)
	if err != nil {
		return func(yield func(sse.Event, error) bool) {
			yield(sse.Event{}, err)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	return sse.Connect(ctx, c.http, req)
}

// HideConversation marks a conversation invisible in the user's history.
// The response status is not inspected.
func (c *Client) HideConversation(ctx context.Context, token, conversationID string) error {
	if conversationID == "" {
		return errors.New("hide conversation: empty conversation id")
	}
	req, err := c.newJSONRequest(ctx, http.MethodPatch, c.apiURL+"/conversation/"+conversationID, token,
		map[string]bool{"is_visible": false})
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hide conversation %s: %w", conversationID, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.Body.Close()
}

// SendFeedback posts a rating for a streamed message. A non-success status is
// logged, not returned.
func (c *Client) SendFeedback(ctx context.Context, token string, fb domain.Feedback) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.apiURL+"/conversation/message_feedback", token, fb)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send feedback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Feedback rejected upstream",
			"status", resp.StatusCode,
			"message_id", fb.MessageID,
			"conversation_id", fb.ConversationID,
		)
	}
	return nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, url, token string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}
