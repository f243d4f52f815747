package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response is read for classification.
const maxErrorBody = 1 << 20

// UnknownErrorMessage is reported when a failed response carries a body we
// cannot extract a message from.
const UnknownErrorMessage = "An unknown error occurred."

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UpstreamError is a non-success response from the event stream endpoint.
type UpstreamError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// Connect sends req bound to ctx and yields the "message" events of the
// response stream in arrival order. A non-2xx response yields a single
// *UpstreamError. Cancelling ctx aborts the outstanding read; the response
// body is closed on every exit path, including the consumer breaking out of
// the loop early.
func Connect(ctx context.Context, client Doer, req *http.Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "text/event-stream")
		}

		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			yield(Event{}, fmt.Errorf("stream request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			yield(Event{}, readUpstreamError(resp))
			return
		}

		for ev, err := range Parse(resp.Body) {
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				yield(Event{}, fmt.Errorf("read stream: %w", err))
				return
			}
			if ev.Type != DefaultEventType {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}

		if ctx.Err() != nil {
			yield(Event{}, fmt.Errorf("read stream: %w", ctx.Err()))
		}
	}
}

func readUpstreamError(resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	status := resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Status:     status,
		Message:    ClassifyErrorBody(status, body),
	}
}

// ClassifyErrorBody turns a failed response body into a human-readable
// message. In order: detail.message, then detail itself when it is not an
// object, then a generic message for any other non-empty JSON body, and
// finally "Error: <status>" when the body is empty or not JSON.
func ClassifyErrorBody(status string, body []byte) string {
	fallback := "Error: " + status

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return fallback
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fallback
	}

	switch v := decoded.(type) {
	case map[string]any:
		if len(v) == 0 {
			return fallback
		}
		detail, ok := v["detail"]
		if !ok {
			return UnknownErrorMessage
		}
		if obj, isObj := detail.(map[string]any); isObj {
			if msg, ok := obj["message"]; ok {
				return stringForm(msg)
			}
			return UnknownErrorMessage
		}
		return stringForm(detail)
	case []any:
		if len(v) == 0 {
			return fallback
		}
		return UnknownErrorMessage
	case string:
		if v == "" {
			return fallback
		}
		return UnknownErrorMessage
	case nil:
		return fallback
	default:
		return UnknownErrorMessage
	}
}

func stringForm(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return "null"
	default:
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return strings.TrimSpace(string(raw))
	}
}
