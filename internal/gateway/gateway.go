// Package gateway is the event-driven transport layer: it accepts
// client websocket sessions, routes per-conversation events through
// the conversation store and pushes them to the affected participants.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/mataid/matchat/internal/convstore"
	"github.com/mataid/matchat/internal/model"
	"github.com/mataid/matchat/internal/presence"
)

// Gateway routes realtime events between sessions, the conversation
// store and the presence tracker. All client operations are
// fire-and-forget; failures are logged and the offending event is
// dropped, never crashing the session or the service.
type Gateway struct {
	store   *convstore.Store
	tracker *presence.Tracker
	logger  *zap.Logger
}

// New creates a gateway.
func New(store *convstore.Store, tracker *presence.Tracker, logger *zap.Logger) *Gateway {
	return &Gateway{store: store, tracker: tracker, logger: logger}
}

// Handler upgrades an HTTP request to a websocket session and serves
// it until the client disconnects.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// The browser/TUI clients connect from arbitrary origins;
			// auth is out of scope for the messaging core.
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			g.logger.Info("websocket accept failed", zap.Error(err))
			return
		}
		g.serve(r.Context(), conn)
	}
}

func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn) {
	s := newSession(conn, g.logger)
	activeSessions.Inc()
	defer activeSessions.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.writeLoop(ctx)

	defer func() {
		if userID, ok := s.identity(); ok {
			g.tracker.MarkOffline(userID, s)
			g.logger.Info("session disconnected", zap.String("user", userID))
		}
		s.close()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			malformedEvents.Inc()
			g.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		g.dispatch(s, env)
	}
}

func (g *Gateway) dispatch(s *session, env model.Envelope) {
	eventsHandled.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case model.EventJoin:
		g.handleJoin(s, env.Payload)
	case model.EventSendMessage:
		g.handleSendMessage(s, env.Payload)
	case model.EventMarkRead:
		g.handleMarkRead(s, env.Payload)
	case model.EventDeleteMessage:
		g.handleDeleteMessage(s, env.Payload)
	default:
		g.logger.Warn("dropping unknown event", zap.String("event", env.Type))
	}
}

// requireJoined enforces the session state machine: conversation
// events from an unbound session are no-ops.
func (g *Gateway) requireJoined(s *session, op string) (string, bool) {
	userID, ok := s.identity()
	if !ok {
		g.logger.Warn("operation before join, ignoring", zap.String("op", op))
	}
	return userID, ok
}

func (g *Gateway) handleJoin(s *session, payload json.RawMessage) {
	var p model.JoinPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		malformedEvents.Inc()
		g.logger.Warn("dropping malformed join", zap.Error(err))
		return
	}
	if !s.bind(p.UserID) {
		g.logger.Warn("repeat join on bound session, ignoring", zap.String("user", p.UserID))
		return
	}
	if replaced := g.tracker.MarkOnline(p.UserID, s); replaced != nil {
		g.logger.Info("routing replaced by newer session", zap.String("user", p.UserID))
	}
	g.logger.Info("user joined", zap.String("user", p.UserID))
}

func (g *Gateway) handleSendMessage(s *session, payload json.RawMessage) {
	senderID, ok := g.requireJoined(s, model.EventSendMessage)
	if !ok {
		return
	}
	var p model.SendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		malformedEvents.Inc()
		g.logger.Warn("dropping malformed send-message", zap.Error(err))
		return
	}
	if p.SenderID == "" || p.ReceiverID == "" || p.SenderID == p.ReceiverID {
		g.logger.Warn("rejecting invalid send-message",
			zap.String("sender", p.SenderID), zap.String("receiver", p.ReceiverID))
		return
	}
	convID := p.ConversationID
	if convID == "" {
		convID = model.ConversationID(p.SenderID, p.ReceiverID)
	}
	msgType := p.Type
	if msgType == "" {
		msgType = model.TypeText
	}

	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Content:        p.Content,
		Type:           msgType,
		Attachment:     p.Material,
		Timestamp:      time.Now().UTC(),
	}
	if err := g.store.Append(msg); err != nil {
		g.logger.Error("append failed, dropping message",
			zap.String("conversation", convID), zap.Error(err))
		return
	}

	newEnv, err := model.NewEnvelope(model.EventNewMessage, msg)
	if err != nil {
		g.logger.Error("encode new-message", zap.Error(err))
		return
	}
	if receiver, online := g.tracker.SessionOf(p.ReceiverID); online {
		receiver.TrySend(newEnv)
	}
	// The message waits in the store for the receiver's next pull when
	// offline. The sender always gets the server echo so its sync
	// engine can reconcile the optimistic copy.
	if sentEnv, err := model.NewEnvelope(model.EventMessageSent, msg); err == nil {
		s.TrySend(sentEnv)
	}
	g.logger.Info("message routed",
		zap.String("conversation", convID),
		zap.String("sender", senderID),
		zap.String("receiver", p.ReceiverID),
		zap.String("type", string(msgType)))
}

func (g *Gateway) handleMarkRead(s *session, payload json.RawMessage) {
	if _, ok := g.requireJoined(s, model.EventMarkRead); !ok {
		return
	}
	var p model.MarkReadPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" || p.UserID == "" {
		malformedEvents.Inc()
		g.logger.Warn("dropping malformed mark-read", zap.Error(err))
		return
	}
	if err := g.store.MarkRead(p.ConversationID, p.UserID); err != nil {
		g.logger.Error("mark read failed", zap.String("conversation", p.ConversationID), zap.Error(err))
		return
	}

	peerID, ok := model.PeerID(p.ConversationID, p.UserID)
	if !ok {
		g.logger.Warn("mark-read conversation does not include reader",
			zap.String("conversation", p.ConversationID), zap.String("reader", p.UserID))
		return
	}
	if peer, online := g.tracker.SessionOf(peerID); online {
		if env, err := model.NewEnvelope(model.EventMessagesRead, p); err == nil {
			peer.TrySend(env)
		}
	}
}

func (g *Gateway) handleDeleteMessage(s *session, payload json.RawMessage) {
	if _, ok := g.requireJoined(s, model.EventDeleteMessage); !ok {
		return
	}
	var p model.DeleteMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" || p.MessageID == "" {
		malformedEvents.Inc()
		g.logger.Warn("dropping malformed delete-message", zap.Error(err))
		return
	}
	removed, err := g.store.Delete(p.ConversationID, p.MessageID)
	if err != nil {
		g.logger.Error("delete failed", zap.String("msg_id", p.MessageID), zap.Error(err))
		return
	}
	if !removed {
		// Already gone; idempotent success, nothing to push.
		return
	}

	env, err := model.NewEnvelope(model.EventMessageDeleted, model.MessageDeletedPayload{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
	})
	if err != nil {
		g.logger.Error("encode message-deleted", zap.Error(err))
		return
	}
	// Both participants get the push, the requester included, so every
	// open view of the conversation converges.
	targets := []string{p.RequesterID}
	if peerID, ok := model.PeerID(p.ConversationID, p.RequesterID); ok {
		targets = append(targets, peerID)
	}
	for _, id := range targets {
		if sess, online := g.tracker.SessionOf(id); online {
			sess.TrySend(env)
		}
	}
	g.logger.Info("message deleted",
		zap.String("conversation", p.ConversationID),
		zap.String("msg_id", p.MessageID),
		zap.String("requester", p.RequesterID))
}
