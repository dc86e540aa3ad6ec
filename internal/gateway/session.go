package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/mataid/matchat/internal/model"
)

const outboundBuffer = 64

// session is one websocket connection. It starts unbound; the first
// join event binds it to a user id, after which conversation events
// are routed to it. Outbound events flow through a buffered channel
// drained by a single writer goroutine, so delivery order per session
// is the order TrySend was called in.
type session struct {
	conn   *websocket.Conn
	out    chan model.Envelope
	logger *zap.Logger

	mu     sync.Mutex
	userID string
	joined bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(conn *websocket.Conn, logger *zap.Logger) *session {
	return &session{
		conn:   conn,
		out:    make(chan model.Envelope, outboundBuffer),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// bind attaches the session to a user id. Returns false if the
// session is already bound.
func (s *session) bind(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return false
	}
	s.userID = userID
	s.joined = true
	return true
}

// identity returns the bound user id, if joined.
func (s *session) identity() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.joined
}

// TrySend queues an event for delivery. Non-blocking: a full buffer
// means the client is too slow and the event is dropped with a log.
func (s *session) TrySend(env model.Envelope) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.out <- env:
		return true
	default:
		eventsDropped.Inc()
		s.logger.Warn("outbound buffer full, dropping event", zap.String("event", env.Type))
		return false
	}
}

// writeLoop drains the outbound channel onto the wire until the
// session closes.
func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case env := <-s.out:
			data, err := json.Marshal(env)
			if err != nil {
				s.logger.Error("encode outbound event", zap.String("event", env.Type), zap.Error(err))
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = s.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Info("session write failed", zap.Error(err))
				s.close()
				return
			}
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
}
