package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/mataid/matchat/internal/model"
)

// Transport delivers envelopes between the engine and the gateway.
// The engine registers its handlers before Start; the real transport
// is the websocket client below, tests substitute a fake.
type Transport interface {
	OnEvent(func(model.Envelope))
	OnState(func(connected bool))
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, env model.Envelope) error
	Online() bool
}

// reconnector computes exponential backoff with jitter. A connection
// that held for over a minute resets the attempt counter.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// WSClient is the websocket transport. It joins as userID right after
// dialing and reconnects with backoff until Stop is called.
type WSClient struct {
	serverURL string
	userID    string
	logger    *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	stopped    bool
	cancelRead context.CancelFunc

	onEvent func(model.Envelope)
	onState func(bool)
	recon   reconnector
}

// NewWSClient creates a transport for the gateway at serverURL
// (http:// or https:// base, /ws is appended).
func NewWSClient(serverURL, userID string, logger *zap.Logger) *WSClient {
	return &WSClient{
		serverURL: serverURL,
		userID:    userID,
		logger:    logger,
		recon: reconnector{
			baseDelay: time.Second,
			maxDelay:  30 * time.Second,
		},
	}
}

func (ws *WSClient) OnEvent(h func(model.Envelope)) { ws.onEvent = h }
func (ws *WSClient) OnState(h func(bool))           { ws.onState = h }

// Online reports whether the socket is currently established.
func (ws *WSClient) Online() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.connected
}

// Start dials the gateway and begins the read loop. A failed first
// dial is not fatal: the client keeps retrying in the background so
// that starting offline still yields a working client once the server
// appears.
func (ws *WSClient) Start(ctx context.Context) error {
	if err := ws.connect(ctx); err != nil {
		ws.logger.Warn("initial dial failed, retrying in background", zap.Error(err))
		go ws.reconnectLoop(ctx)
	}
	return nil
}

// Stop closes the connection and disables reconnection.
func (ws *WSClient) Stop() error {
	ws.mu.Lock()
	ws.stopped = true
	conn := ws.conn
	ws.conn = nil
	ws.connected = false
	if ws.cancelRead != nil {
		ws.cancelRead()
		ws.cancelRead = nil
	}
	ws.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	return nil
}

// Send writes an envelope to the gateway.
func (ws *WSClient) Send(ctx context.Context, env model.Envelope) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func (ws *WSClient) wsURL() string {
	u := strings.Replace(ws.serverURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws"
}

func (ws *WSClient) connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, ws.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	join, err := model.NewEnvelope(model.EventJoin, model.JoinPayload{UserID: ws.userID})
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return err
	}
	data, _ := json.Marshal(join)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("send join: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		cancel()
		return conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	ws.conn = conn
	ws.connected = true
	ws.cancelRead = cancel
	ws.mu.Unlock()

	ws.recon.markConnected()
	if ws.onState != nil {
		ws.onState(true)
	}
	go ws.readLoop(readCtx, conn)
	return nil
}

func (ws *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			stopped := ws.stopped
			if ws.conn == conn {
				ws.conn = nil
				ws.connected = false
			}
			ws.mu.Unlock()

			if !stopped {
				ws.logger.Warn("gateway connection lost", zap.Error(err))
				if ws.onState != nil {
					ws.onState(false)
				}
				go ws.reconnectLoop(ctx)
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			ws.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if ws.onEvent != nil {
			ws.onEvent(env)
		}
	}
}

func (ws *WSClient) reconnectLoop(ctx context.Context) {
	for {
		delay := ws.recon.nextDelay()
		ws.logger.Info("reconnecting to gateway",
			zap.Duration("delay", delay),
			zap.Int("attempt", ws.recon.attempt))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		ws.mu.Lock()
		stopped := ws.stopped
		ws.mu.Unlock()
		if stopped {
			return
		}
		if err := ws.connect(ctx); err == nil {
			return
		}
	}
}
