// Package testutil provides a fake ChatGPT backend for tests.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Patch is a recorded conversation property update.
type Patch struct {
	ConversationID string
	Authorization  string
	Body           string
}

// Upstream fakes the session, conversation, property and feedback endpoints.
type Upstream struct {
	Server *httptest.Server

	mu            sync.Mutex
	sessionStatus int
	sessionBody   string
	stream        http.HandlerFunc
	sessions      int
	conversations int
	patches       []Patch
	feedback      []string
	patchCh       chan Patch
	sessionGate   chan struct{}
	sessionIn     chan struct{}
}

// NewUpstream starts a fake backend that hands out the token "abc" and
// answers conversations with an empty stream until SetStream is called.
func NewUpstream(t *testing.T) *Upstream {
	t.Helper()
	u := &Upstream{
		sessionStatus: http.StatusOK,
		sessionBody:   `{"accessToken":"abc"}`,
		stream:        StreamEvents(),
		patchCh:       make(chan Patch, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/session", u.handleSession)
	mux.HandleFunc("POST /backend-api/conversation", u.handleConversation)
	mux.HandleFunc("POST /backend-api/conversation/message_feedback", u.handleFeedback)
	mux.HandleFunc("PATCH /backend-api/conversation/{id}", u.handlePatch)

	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Server.Close)
	return u
}

// SessionURL is the identity endpoint URL.
func (u *Upstream) SessionURL() string { return u.Server.URL + "/api/auth/session" }

// APIURL is the backend API base URL.
func (u *Upstream) APIURL() string { return u.Server.URL + "/backend-api" }

// SetSession changes the identity endpoint response.
func (u *Upstream) SetSession(status int, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessionStatus, u.sessionBody = status, body
}

// SetStream replaces the conversation endpoint handler.
func (u *Upstream) SetStream(h http.HandlerFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stream = h
}

// HoldSession makes identity requests wait until release is called. arrived
// receives once per request that is held.
func (u *Upstream) HoldSession(t *testing.T) (arrived <-chan struct{}, release func()) {
	t.Helper()
	gate := make(chan struct{})
	in := make(chan struct{}, 16)
	u.mu.Lock()
	u.sessionGate, u.sessionIn = gate, in
	u.mu.Unlock()

	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return in, release
}

// SessionRequests counts identity endpoint calls.
func (u *Upstream) SessionRequests() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessions
}

// ConversationRequests counts conversation endpoint calls.
func (u *Upstream) ConversationRequests() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conversations
}

// Patches returns the property updates received so far.
func (u *Upstream) Patches() []Patch {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Patch(nil), u.patches...)
}

// Feedback returns the raw feedback bodies received so far.
func (u *Upstream) Feedback() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.feedback...)
}

// WaitPatch blocks until a property update arrives.
func (u *Upstream) WaitPatch(t *testing.T, timeout time.Duration) Patch {
	t.Helper()
	select {
	case p := <-u.patchCh:
		return p
	case <-time.After(timeout):
		t.Fatalf("no conversation PATCH within %s", timeout)
		return Patch{}
	}
}

func (u *Upstream) handleSession(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.sessions++
	status, body := u.sessionStatus, u.sessionBody
	gate, in := u.sessionGate, u.sessionIn
	u.mu.Unlock()

	if gate != nil {
		select {
		case in <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func (u *Upstream) handleConversation(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.conversations++
	stream := u.stream
	u.mu.Unlock()

	stream(w, r)
}

func (u *Upstream) handleFeedback(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	u.mu.Lock()
	u.feedback = append(u.feedback, string(body))
	u.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (u *Upstream) handlePatch(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p := Patch{
		ConversationID: r.PathValue("id"),
		Authorization:  r.Header.Get("Authorization"),
		Body:           string(body),
	}
	u.mu.Lock()
	u.patches = append(u.patches, p)
	u.mu.Unlock()

	select {
	case u.patchCh <- p:
	default:
	}
	w.WriteHeader(http.StatusOK)
}

// StreamEvents answers with one SSE data record per payload, flushing each.
func StreamEvents(payloads ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// StreamThenHang sends payloads and then holds the connection open until the
// client goes away. released is closed once the request context is done.
func StreamThenHang(released chan<- struct{}, payloads ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		StreamEvents(payloads...)(w, r)
		<-r.Context().Done()
		close(released)
	}
}

// Chunk builds a completion payload.
func Chunk(messageID, conversationID, text string) string {
	return fmt.Sprintf(`{"message":{"id":%q,"content":{"content_type":"text","parts":[%q]}},"conversation_id":%q}`,
		messageID, text, conversationID)
}

// Status answers with a fixed status and body.
func Status(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		fmt.Fprint(w, body)
	}
}
