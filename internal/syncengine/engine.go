// Package syncengine keeps the client's view of conversations
// consistent across live delivery, offline composition and
// reconnection. All server events and local operations funnel through
// the Engine, which updates the cache and publishes domain events for
// the UI.
package syncengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mataid/matchat/internal/bus"
	"github.com/mataid/matchat/internal/cache"
	"github.com/mataid/matchat/internal/model"
)

// Bus event kinds published by the engine. "chat." covers message
// traffic, "conn." covers connectivity and presence.
const (
	KindMessageSent     = "chat.message_sent"
	KindMessageReceived = "chat.message_received"
	KindMessagesRead    = "chat.messages_read"
	KindMessageDeleted  = "chat.message_deleted"
	KindReloaded        = "chat.reloaded"
	KindPeerOnline      = "conn.peer_online"
	KindPeerOffline     = "conn.peer_offline"
	KindGatewayState    = "conn.gateway_state"
)

// ReadReceipt is the payload of a KindMessagesRead bus event.
type ReadReceipt struct {
	ConversationID string
	ReaderID       string
}

// Deletion is the payload of a KindMessageDeleted bus event.
type Deletion struct {
	ConversationID string
	MessageID      string
}

// Engine is the client-side reconciliation core. It owns the cache
// writes: the transport and the UI never touch the cache directly.
type Engine struct {
	selfID    string
	db        *cache.DB
	transport Transport
	api       *APIClient
	bus       *bus.Bus
	logger    *zap.Logger
}

// New wires the engine to its transport. Call Start afterwards.
func New(selfID string, db *cache.DB, transport Transport, api *APIClient, b *bus.Bus, logger *zap.Logger) *Engine {
	e := &Engine{
		selfID:    selfID,
		db:        db,
		transport: transport,
		api:       api,
		bus:       b,
		logger:    logger,
	}
	transport.OnEvent(e.handleEnvelope)
	transport.OnState(e.handleState)
	return e
}

// Start begins the transport. Offline start is not an error; the
// transport keeps retrying and the engine serves from cache meanwhile.
func (e *Engine) Start(ctx context.Context) error {
	return e.transport.Start(ctx)
}

// Stop closes the transport.
func (e *Engine) Stop() error {
	return e.transport.Stop()
}

// Online reports whether the gateway connection is up.
func (e *Engine) Online() bool {
	return e.transport.Online()
}

// Send delivers a message to peerID. Online, the gateway assigns the
// id and echoes message-sent; the echo handler writes the cache.
// Offline, the engine assigns an id itself, stores the message as
// pending and surfaces it immediately so composing never blocks on
// connectivity.
func (e *Engine) Send(ctx context.Context, peerID, content string, msgType model.MessageType, material *model.Material) (*model.Message, error) {
	convID := model.ConversationID(e.selfID, peerID)
	if msgType == "" {
		msgType = model.TypeText
	}

	if e.transport.Online() {
		env, err := model.NewEnvelope(model.EventSendMessage, model.SendMessagePayload{
			ConversationID: convID,
			Content:        content,
			SenderID:       e.selfID,
			ReceiverID:     peerID,
			Type:           msgType,
			Material:       material,
		})
		if err != nil {
			return nil, err
		}
		if err := e.transport.Send(ctx, env); err == nil {
			return nil, nil
		}
		// Fall through: socket died between the Online check and the
		// write. The message becomes a pending local one.
		e.logger.Warn("send failed, storing message as pending")
	}

	m := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       e.selfID,
		ReceiverID:     peerID,
		Content:        content,
		Type:           msgType,
		Attachment:     material,
		Timestamp:      time.Now().UTC(),
	}
	if err := e.db.UpsertMessage(m, true); err != nil {
		return nil, err
	}
	e.publish(KindMessageSent, m)
	return m, nil
}

// MarkRead flips the peer's messages to read in the local cache and,
// when online, tells the gateway. Offline callers still get the local
// flip so unread badges clear immediately.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	peer, ok := model.PeerID(conversationID, e.selfID)
	if !ok {
		e.logger.Warn("mark-read for foreign conversation", zap.String("conversation", conversationID))
		return nil
	}
	if err := e.db.MarkReadBySender(conversationID, peer); err != nil {
		return err
	}
	if e.transport.Online() {
		env, err := model.NewEnvelope(model.EventMarkRead, model.MarkReadPayload{
			ConversationID: conversationID,
			UserID:         e.selfID,
		})
		if err != nil {
			return err
		}
		if err := e.transport.Send(ctx, env); err != nil {
			e.logger.Warn("mark-read not delivered", zap.Error(err))
		}
	}
	return nil
}

// DeleteMessage removes a message optimistically: tombstone and drop
// it locally first, then tell the gateway when online. The tombstone
// keeps stale server lists from resurrecting it.
func (e *Engine) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := e.db.AddTombstone(conversationID, messageID); err != nil {
		return err
	}
	e.publish(KindMessageDeleted, Deletion{ConversationID: conversationID, MessageID: messageID})

	if e.transport.Online() {
		env, err := model.NewEnvelope(model.EventDeleteMessage, model.DeleteMessagePayload{
			ConversationID: conversationID,
			MessageID:      messageID,
			RequesterID:    e.selfID,
		})
		if err != nil {
			return err
		}
		if err := e.transport.Send(ctx, env); err != nil {
			e.logger.Warn("delete not delivered", zap.Error(err))
		}
	}
	return nil
}

// Messages returns the cached conversation.
func (e *Engine) Messages(conversationID string) ([]model.Message, error) {
	return e.db.ListMessages(conversationID)
}

// PendingLocal returns the offline-composed messages awaiting
// confirmation.
func (e *Engine) PendingLocal(conversationID string) ([]model.Message, error) {
	return e.db.PendingMessages(conversationID)
}

// Reload reconciles a conversation against the server: the server
// list wins for confirmed messages, locally deleted ids stay deleted
// and pending offline messages survive. Falls back to cache when the
// server is unreachable.
func (e *Engine) Reload(ctx context.Context, conversationID string) ([]model.Message, error) {
	server, err := e.api.Messages(ctx, conversationID)
	if err != nil {
		e.logger.Info("reload falling back to cache", zap.Error(err))
		return e.db.ListMessages(conversationID)
	}

	dead, err := e.db.Tombstones(conversationID)
	if err != nil {
		return nil, err
	}
	kept := server[:0]
	for _, m := range server {
		if !dead[m.ID] {
			kept = append(kept, m)
		}
	}
	if err := e.db.ReplaceMessages(conversationID, kept); err != nil {
		return nil, err
	}

	msgs, err := e.db.ListMessages(conversationID)
	if err != nil {
		return nil, err
	}
	if err := e.db.SetSyncState("last_reload:"+conversationID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("sync state not recorded", zap.Error(err))
	}
	e.publish(KindReloaded, conversationID)
	return msgs, nil
}

// RefreshConnections pulls the connection list from the server and
// caches the ids. Offline it serves the cached ids with empty
// profiles.
func (e *Engine) RefreshConnections(ctx context.Context) ([]model.User, error) {
	users, err := e.api.Connections(ctx, e.selfID)
	if err != nil {
		ids, cacheErr := e.db.Connections()
		if cacheErr != nil {
			return nil, cacheErr
		}
		cached := make([]model.User, 0, len(ids))
		for _, id := range ids {
			cached = append(cached, model.User{ID: id, Name: id})
		}
		return cached, nil
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	if err := e.db.SaveConnections(ids); err != nil {
		e.logger.Warn("connection cache not updated", zap.Error(err))
	}
	return users, nil
}

func (e *Engine) handleState(connected bool) {
	e.publish(KindGatewayState, connected)
}

func (e *Engine) handleEnvelope(env model.Envelope) {
	switch env.Type {
	case model.EventNewMessage:
		e.handleIncoming(env.Payload, KindMessageReceived)
	case model.EventMessageSent:
		e.handleIncoming(env.Payload, KindMessageSent)
	case model.EventMessagesRead:
		var p model.MarkReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.logger.Warn("bad messages-read payload", zap.Error(err))
			return
		}
		// The reader read OUR messages in that conversation.
		if err := e.db.MarkReadBySender(p.ConversationID, e.selfID); err != nil {
			e.logger.Warn("read receipt not applied", zap.Error(err))
			return
		}
		e.publish(KindMessagesRead, ReadReceipt{ConversationID: p.ConversationID, ReaderID: p.UserID})
	case model.EventMessageDeleted:
		var p model.MessageDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.logger.Warn("bad message-deleted payload", zap.Error(err))
			return
		}
		// Applied unconditionally, including echoes of our own
		// deletions. Tombstoning here keeps a stale re-delivery of the
		// dead id out of the cache too.
		if err := e.db.AddTombstone(p.ConversationID, p.MessageID); err != nil {
			e.logger.Warn("deletion not applied", zap.Error(err))
			return
		}
		e.publish(KindMessageDeleted, Deletion{ConversationID: p.ConversationID, MessageID: p.MessageID})
	case model.EventUserOnline:
		e.publishPresence(env.Payload, KindPeerOnline)
	case model.EventUserOffline:
		e.publishPresence(env.Payload, KindPeerOffline)
	default:
		e.logger.Debug("ignoring event", zap.String("type", env.Type))
	}
}

// handleIncoming stores a message push. new-message and the
// message-sent echo share a shape; only the bus kind differs.
func (e *Engine) handleIncoming(payload json.RawMessage, kind string) {
	var m model.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		e.logger.Warn("bad message payload", zap.Error(err))
		return
	}
	if m.ID == "" || m.ConversationID == "" {
		e.logger.Warn("message push missing identity fields")
		return
	}

	dead, err := e.db.IsTombstoned(m.ConversationID, m.ID)
	if err != nil {
		e.logger.Warn("tombstone check failed", zap.Error(err))
		return
	}
	if dead {
		return
	}
	seen, err := e.db.HasMessage(m.ConversationID, m.ID)
	if err != nil {
		e.logger.Warn("dedup check failed", zap.Error(err))
		return
	}
	if err := e.db.UpsertMessage(&m, false); err != nil {
		e.logger.Warn("message not cached", zap.Error(err))
		return
	}
	// Re-delivery updates the cache row but must not re-notify the UI.
	if seen {
		return
	}
	e.publish(kind, &m)
}

func (e *Engine) publishPresence(payload json.RawMessage, kind string) {
	var p model.PresencePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.logger.Warn("bad presence payload", zap.Error(err))
		return
	}
	e.publish(kind, p.UserID)
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
