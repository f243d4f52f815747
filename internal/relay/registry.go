package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Registry tracks live channels per client.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a channel for a client.
func (m *Registry) Register(clientID, channelID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[clientID]; !exists {
		m.active[clientID] = make(map[string]*websocket.Conn)
	}
	m.active[clientID][channelID] = conn
	channelsActive.Inc()
	slog.Debug("Channel registered", "client_id", clientID, "channel_id", channelID)
}

// Unregister removes a channel. It is a no-op if conn is no longer the one
// registered under channelID.
func (m *Registry) Unregister(clientID, channelID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	channels, ok := m.active[clientID]
	if !ok {
		return
	}
	if current, exists := channels[channelID]; exists && current == conn {
		delete(channels, channelID)
		if len(channels) == 0 {
			delete(m.active, clientID)
		}
		channelsActive.Dec()
		slog.Debug("Channel unregistered", "client_id", clientID, "channel_id", channelID)
	}
}

// Count returns the number of live channels.
func (m *Registry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, channels := range m.active {
		n += len(channels)
	}
	return n
}

// CloseAll closes every live channel. Each handler then cancels its
// sessions and unregisters itself.
func (m *Registry) CloseAll(reason string) {
	m.mu.RLock()
	var conns []*websocket.Conn
	for _, channels := range m.active {
		for _, conn := range channels {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	slog.Info("Closing live channels", "count", len(conns), "reason", reason)
	closeAll(conns, websocket.StatusGoingAway, reason)
}

// Drain waits until every channel has unregistered or ctx is done.
func (m *Registry) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.Count() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func closeAll(conns []*websocket.Conn, code websocket.StatusCode, reason string) {
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			_ = c.Close(code, reason)
		}(conn)
	}
	wg.Wait()
}
