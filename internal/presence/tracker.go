// Package presence tracks which users hold a live gateway session and
// pushes online/offline transitions to their connections.
package presence

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mataid/matchat/internal/model"
)

// Sender is the outbound side of a gateway session. TrySend must not
// block; it reports whether the event was accepted.
type Sender interface {
	TrySend(env model.Envelope) bool
}

// ConnectionsLister supplies the adjacency set used for peer
// notification. Satisfied by identity.Graph.
type ConnectionsLister interface {
	ConnectionsOf(userID string) ([]string, error)
}

// Tracker maps each user to at most one live session. A second join
// for the same user silently replaces routing for that user.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]Sender
	peers    ConnectionsLister
	logger   *zap.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(peers ConnectionsLister, logger *zap.Logger) *Tracker {
	return &Tracker{
		sessions: make(map[string]Sender),
		peers:    peers,
		logger:   logger,
	}
}

// MarkOnline binds userID to s and notifies the user's connections.
// Returns the session that was displaced, if any.
func (t *Tracker) MarkOnline(userID string, s Sender) Sender {
	t.mu.Lock()
	replaced := t.sessions[userID]
	t.sessions[userID] = s
	t.mu.Unlock()

	if replaced == nil {
		t.notifyPeers(userID, model.EventUserOnline)
	}
	return replaced
}

// MarkOffline unbinds userID if s is still the bound session, and
// notifies connections of the transition. A session displaced by a
// later join does not flip the user offline on its way out.
func (t *Tracker) MarkOffline(userID string, s Sender) {
	t.mu.Lock()
	current, ok := t.sessions[userID]
	if !ok || current != s {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, userID)
	t.mu.Unlock()

	t.notifyPeers(userID, model.EventUserOffline)
}

// SessionOf returns the live session bound to userID.
func (t *Tracker) SessionOf(userID string) (Sender, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[userID]
	return s, ok
}

// IsOnline reports whether userID has a bound session.
func (t *Tracker) IsOnline(userID string) bool {
	_, ok := t.SessionOf(userID)
	return ok
}

// notifyPeers pushes a presence event to every online connection of
// userID. Best-effort: a failed or dropped push is logged and the rest
// of the peers are still notified.
func (t *Tracker) notifyPeers(userID, eventType string) {
	ids, err := t.peers.ConnectionsOf(userID)
	if err != nil {
		t.logger.Warn("presence notify: cannot list connections",
			zap.String("user", userID), zap.Error(err))
		return
	}
	env, err := model.NewEnvelope(eventType, model.PresencePayload{UserID: userID})
	if err != nil {
		t.logger.Error("presence notify: encode", zap.Error(err))
		return
	}
	for _, peer := range ids {
		s, ok := t.SessionOf(peer)
		if !ok {
			continue
		}
		if !s.TrySend(env) {
			t.logger.Warn("presence notify dropped",
				zap.String("user", userID), zap.String("peer", peer), zap.String("event", eventType))
		}
	}
}
