// Package identity provides anonymous per-install identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	ClientCookieName   = "ogpt_client_id"
	PortHeaderName     = "X-OGPT-Port-ID"
	DefaultPortIDValue = "default"
	clientCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	clientIDKey contextKey = iota
	portIDKey
)

var (
	clientIDPattern = regexp.MustCompile(`^client_[a-f0-9]{32}$`)
	portIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ClientIDFromContext extracts the client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// PortIDFromContext extracts the per-tab port ID from the request context.
func PortIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(portIDKey).(string); ok {
		return v
	}
	return DefaultPortIDValue
}

// WithIdentity returns a copy of ctx carrying the given ids.
func WithIdentity(ctx context.Context, clientID, portID string) context.Context {
	ctx = context.WithValue(ctx, clientIDKey, clientID)
	return context.WithValue(ctx, portIDKey, sanitizePortID(portID))
}

func generateClientID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return "client_" + hex.EncodeToString(buf), nil
}

func isValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

func sanitizePortID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !portIDPattern.MatchString(id) {
		return DefaultPortIDValue
	}
	return id
}

func getOrCreateClientID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(ClientCookieName); err == nil && isValidClientID(c.Value) {
		id = c.Value
	} else {
		var genErr error
		if id, genErr = generateClientID(); genErr != nil {
			return "", genErr
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(clientCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func portIDFromRequest(r *http.Request) string {
	pid := r.Header.Get(PortHeaderName)
	if pid == "" {
		pid = r.URL.Query().Get("port_id")
	}
	return sanitizePortID(pid)
}

// Middleware injects the anonymous client ID and the per-tab port ID.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := getOrCreateClientID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish client identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithIdentity(r.Context(), clientID, portIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
