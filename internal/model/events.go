package model

import (
	"encoding/json"
	"fmt"
)

// Wire event types. Client-to-server commands and server-to-client
// pushes share one envelope format.
const (
	EventJoin           = "join"
	EventSendMessage    = "send-message"
	EventMarkRead       = "mark-read"
	EventDeleteMessage  = "delete-message"
	EventNewMessage     = "new-message"
	EventMessageSent    = "message-sent"
	EventMessagesRead   = "messages-read"
	EventMessageDeleted = "message-deleted"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
)

// Envelope is the wire format for all realtime events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// JoinPayload binds a session to a user id.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// SendMessagePayload asks the gateway to store and route a message.
// The message id and timestamp are assigned server-side.
type SendMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	Type           MessageType `json:"type"`
	Material       *Material   `json:"material,omitempty"`
}

// MarkReadPayload is both the mark-read command and the messages-read
// push; UserID is the reader.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// DeleteMessagePayload asks the gateway to delete a message.
type DeleteMessagePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	RequesterID    string `json:"requesterId"`
}

// MessageDeletedPayload is the deletion push sent to both participants.
type MessageDeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// PresencePayload is the user-online / user-offline push.
type PresencePayload struct {
	UserID string `json:"userId"`
}
