package model

import (
	"encoding/json"
	"testing"
)

func TestConversationIDOrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"user-1", "user-2"},
		{"alice", "bob"},
		{"z", "a"},
		{"user-10", "user-2"},
	}
	for _, p := range pairs {
		ab := ConversationID(p[0], p[1])
		ba := ConversationID(p[1], p[0])
		if ab != ba {
			t.Errorf("ConversationID(%q,%q)=%q but reversed=%q", p[0], p[1], ab, ba)
		}
	}
}

func TestConversationIDDistinctPairs(t *testing.T) {
	a := ConversationID("user-1", "user-2")
	b := ConversationID("user-1", "user-3")
	if a == b {
		t.Errorf("distinct pairs collided: %q", a)
	}
}

func TestPeerID(t *testing.T) {
	tests := []struct {
		conv, self, want string
		ok               bool
	}{
		{"user-1-user-2", "user-1", "user-2", true},
		{"user-1-user-2", "user-2", "user-1", true},
		{"alice-bob", "bob", "alice", true},
		{"alice-bob", "carol", "", false},
	}
	for _, tt := range tests {
		got, ok := PeerID(tt.conv, tt.self)
		if ok != tt.ok || got != tt.want {
			t.Errorf("PeerID(%q,%q) = %q,%v want %q,%v", tt.conv, tt.self, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventJoin, JoinPayload{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != EventJoin {
		t.Errorf("type = %q, want %q", decoded.Type, EventJoin)
	}
	var p JoinPayload
	if err := json.Unmarshal(decoded.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "user-1" {
		t.Errorf("userId = %q, want user-1", p.UserID)
	}
}

func TestMaterialMessageKeepsStructuredAttachment(t *testing.T) {
	msg := Message{
		ID:      "m1",
		Content: "Shared material: Mycelium Composite",
		Type:    TypeMaterial,
		Attachment: &Material{
			Name:       "Mycelium Composite",
			Properties: map[string]string{"density": "0.18 g/cm3"},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != TypeMaterial {
		t.Errorf("type = %q, want material", decoded.Type)
	}
	if decoded.Attachment == nil || decoded.Attachment.Name != "Mycelium Composite" {
		t.Errorf("attachment lost: %+v", decoded.Attachment)
	}
}
