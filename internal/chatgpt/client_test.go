package chatgpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/overflowgpt/internal/credential"
	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/ashureev/overflowgpt/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		SessionURL: srv.URL + "/api/auth/session",
		APIURL:     srv.URL + "/backend-api",
		HTTPClient: srv.Client(),
		Cache:      credential.NewCache(time.Minute, nil),
	}), srv
}

func TestAccessToken_FetchesAndCaches(t *testing.T) {
	var fetches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/session", func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, `{"accessToken":"abc","user":{"name":"x"}}`)
	})
	c, _ := newTestClient(t, mux)

	for i := 0; i < 3; i++ {
		tok, err := c.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc", tok)
	}
	assert.Equal(t, int32(1), fetches.Load())

	c.Invalidate()
	_, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestAccessToken_Challenge(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "<html>Just a moment...</html>")
	}))

	_, err := c.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrChallengeRequired)
}

func TestAccessToken_Unauthorized(t *testing.T) {
	for name, body := range map[string]string{
		"empty object": `{}`,
		"not json":     `<html></html>`,
		"empty token":  `{"accessToken":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			_, err := c.AccessToken(context.Background())
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestAccessToken_ConcurrentMissesShareFetch(t *testing.T) {
	var fetches atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"accessToken":"abc"}`)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.AccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "abc", tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fetches.Load())
}

func TestAccessToken_SharedFetchOutlivesCancelledCaller(t *testing.T) {
	var fetches atomic.Int32
	arrived := make(chan struct{}, 4)
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		arrived <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, `{"accessToken":"abc"}`)
	}))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.AccessToken(firstCtx)
		firstErr <- err
	}()

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("session endpoint was not called")
	}

	type result struct {
		token string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		tok, err := c.AccessToken(context.Background())
		second <- result{tok, err}
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared fetch")
	}

	close(release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, "abc", res.token)
	case <-time.After(2 * time.Second):
		t.Fatal("remaining caller never got a token")
	}

	assert.Equal(t, int32(1), fetches.Load())
	cred, ok := c.cache.Get()
	require.True(t, ok)
	assert.Equal(t, "abc", cred.Token)
}

func TestConverse_RequestShape(t *testing.T) {
	var mu sync.Mutex
	var bodies []conversationRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/backend-api/conversation", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var body conversationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()

		fmt.Fprint(w, "data: {\"message\":{\"id\":\"m1\",\"content\":{\"parts\":[\"Hi\"]}},\"conversation_id\":\"c1\"}\n\ndata: [DONE]\n\n")
	})
	c, _ := newTestClient(t, mux)

	for i := 0; i < 2; i++ {
		var data []string
		for ev, err := range c.Converse(context.Background(), "tok", "why?") {
			require.NoError(t, err)
			data = append(data, ev.Data)
		}
		require.Len(t, data, 2)
		assert.Equal(t, DoneSentinel, data[1])
	}

	require.Len(t, bodies, 2)
	first := bodies[0]
	assert.Equal(t, "next", first.Action)
	assert.Equal(t, DefaultModel, first.Model)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, "user", first.Messages[0].Role)
	assert.Equal(t, "text", first.Messages[0].Content.ContentType)
	assert.Equal(t, []string{"why?"}, first.Messages[0].Content.Parts)
	assert.NotEmpty(t, first.Messages[0].ID)
	assert.NotEqual(t, first.Messages[0].ID, first.ParentMessageID)

	second := bodies[1]
	assert.NotEqual(t, first.Messages[0].ID, second.Messages[0].ID, "message ids must not be reused")
	assert.NotEqual(t, first.ParentMessageID, second.ParentMessageID, "parent ids must not be reused")
}

func TestConverse_UpstreamError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"detail":{"message":"rate limited"}}`)
	}))

	var gotErr error
	for _, err := range c.Converse(context.Background(), "tok", "q") {
		gotErr = err
	}
	var upstream *sse.UpstreamError
	require.True(t, errors.As(gotErr, &upstream))
	assert.Equal(t, "rate limited", upstream.Message)
}

func TestHideConversation(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/backend-api/conversation/c1", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"is_visible":false}`, string(body))
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, _ := newTestClient(t, mux)

	require.NoError(t, c.HideConversation(context.Background(), "tok", "c1"), "response status is ignored")
	assert.Equal(t, int32(1), calls.Load())

	require.Error(t, c.HideConversation(context.Background(), "tok", ""))
}

func TestSendFeedback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/backend-api/conversation/message_feedback", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"messageId":"m1","conversationId":"c1","questionId":"q1","rating":"thumbsUp"}`, string(body))
		w.WriteHeader(http.StatusBadRequest)
	})
	c, _ := newTestClient(t, mux)

	err := c.SendFeedback(context.Background(), "tok", domain.Feedback{
		MessageID:      "m1",
		ConversationID: "c1",
		QuestionID:     "q1",
		Rating:         domain.RatingThumbsUp,
	})
	require.NoError(t, err)
}
