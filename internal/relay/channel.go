package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// connSink writes outbound envelopes to a websocket. A failed write means the
// page is gone, so it cancels the channel.
type connSink struct {
	conn   *websocket.Conn
	cancel context.CancelFunc

	// Frames from concurrent sessions must not interleave mid-envelope.
	mu sync.Mutex
}

func (s *connSink) Send(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Key(), err)
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Write(wctx, websocket.MessageText, data); err != nil {
		s.cancel()
		return fmt.Errorf("write %s: %w", env.Key(), err)
	}
	return nil
}
