package convstore

import (
	"sort"

	"github.com/mataid/matchat/internal/model"
)

// Summaries derives the conversation list view for userID from its
// connections: one summary per connection, lastMessage taken from the
// tail of the log, unread counting peer-sent unread messages.
// Summaries are not stored; they are recomputed on demand.
func (s *Store) Summaries(userID string, connections []model.User) ([]model.Summary, error) {
	summaries := make([]model.Summary, 0, len(connections))
	for _, peer := range connections {
		convID := model.ConversationID(userID, peer.ID)
		msgs, err := s.List(convID)
		if err != nil {
			return nil, err
		}

		sum := model.Summary{ConversationID: convID, User: peer}
		for _, m := range msgs {
			if m.SenderID != userID && !m.Read {
				sum.UnreadCount++
			}
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			sum.LastMessage = &model.LastMessage{
				Content:   last.Content,
				Timestamp: last.Timestamp,
				SenderID:  last.SenderID,
			}
		}
		summaries = append(summaries, sum)
	}

	// Most recent first; conversations without messages sort last, ties
	// broken by peer id for a stable order.
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		switch {
		case a.LastMessage == nil && b.LastMessage == nil:
			return a.User.ID < b.User.ID
		case a.LastMessage == nil:
			return false
		case b.LastMessage == nil:
			return true
		case !a.LastMessage.Timestamp.Equal(b.LastMessage.Timestamp):
			return a.LastMessage.Timestamp.After(b.LastMessage.Timestamp)
		default:
			return a.User.ID < b.User.ID
		}
	})
	return summaries, nil
}
