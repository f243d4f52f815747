package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay accepts one channel, records the question, plays replies and
// forwards any later envelope to received.
func fakeRelay(t *testing.T, replies []domain.Envelope, received chan<- domain.Envelope) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/port", r.URL.Path)
		assert.Equal(t, "main-port", r.URL.Query().Get("name"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			env, err := domain.DecodeEnvelope(data, domain.Inbound)
			if !assert.NoError(t, err) {
				return
			}
			received <- env

			if env.Key() != domain.KeyScrapedQuestion {
				continue
			}
			for _, reply := range replies {
				out, _ := json.Marshal(reply)
				if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunAsk_StreamsAndRates(t *testing.T) {
	received := make(chan domain.Envelope, 4)
	srv := fakeRelay(t, []domain.Envelope{
		domain.Wrap(domain.Output{Text: "Hel", MessageID: "m1", ConversationID: "c1"}),
		domain.Wrap(domain.Output{Text: "Hello", MessageID: "m1", ConversationID: "c1"}),
	}, received)

	var out bytes.Buffer
	opts := askOptions{server: srv.URL, portID: "cli", questionID: "q7", rate: "up", timeout: 2 * time.Second, idle: 100 * time.Millisecond}
	require.NoError(t, runAsk(context.Background(), opts, "hi there", &out))

	assert.Contains(t, out.String(), "Hello\n")
	assert.Contains(t, out.String(), "conversation c1")

	q := <-received
	assert.Equal(t, domain.ScrapedQuestion{Text: "hi there", QuestionID: "q7"}, q.Payload)

	select {
	case env := <-received:
		assert.Equal(t, domain.Feedback{MessageID: "m1", ConversationID: "c1", QuestionID: "q7", Rating: domain.RatingThumbsUp}, env.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no feedback received")
	}
}

func TestRunAsk_ReportsError(t *testing.T) {
	received := make(chan domain.Envelope, 4)
	srv := fakeRelay(t, []domain.Envelope{
		domain.Wrap(domain.ErrorMessage{Message: `<p style="color: red">rate limited</p>`}),
	}, received)

	var out bytes.Buffer
	opts := askOptions{server: srv.URL, timeout: 2 * time.Second, idle: 100 * time.Millisecond}
	err := runAsk(context.Background(), opts, "hi", &out)

	require.Error(t, err)
	assert.Contains(t, out.String(), "rate limited")
}

func TestRunAsk_NoAnswer(t *testing.T) {
	srv := fakeRelay(t, nil, make(chan domain.Envelope, 4))

	opts := askOptions{server: srv.URL, timeout: 100 * time.Millisecond, idle: 100 * time.Millisecond}
	err := runAsk(context.Background(), opts, "hi", &bytes.Buffer{})
	require.ErrorContains(t, err, "no answer")
}

func TestRunAsk_BadRating(t *testing.T) {
	err := runAsk(context.Background(), askOptions{rate: "sideways"}, "hi", &bytes.Buffer{})
	require.ErrorContains(t, err, "--rate")
}

func TestChannelURL(t *testing.T) {
	u, err := channelURL("https://relay.example/")
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example/ws/port?name=main-port", u)

	u, err = channelURL("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/port?name=main-port", u)
}

func TestRunCheck(t *testing.T) {
	tests := []struct {
		name    string
		reply   domain.Envelope
		wantErr string
		wantOut string
	}{
		{name: "confirmed", reply: domain.Wrap(domain.AccessConfirmed{}), wantOut: "Access confirmed"},
		{name: "denied", reply: domain.Wrap(domain.ErrorMessage{Message: "<p>Please login</p>"}), wantErr: "access denied: Please login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/runtime/message", r.URL.Path)
				var env domain.Envelope
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&env))
				assert.Equal(t, domain.KeyCheckAccess, env.Key())
				_ = json.NewEncoder(w).Encode(tt.reply)
			}))
			defer srv.Close()

			var out bytes.Buffer
			err := runCheck(context.Background(), srv.Client(), srv.URL, &out)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.wantOut)
		})
	}
}

func TestRunCheck_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := runCheck(context.Background(), srv.Client(), srv.URL, &bytes.Buffer{})
	require.ErrorContains(t, err, "500")
}
