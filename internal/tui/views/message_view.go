package views

import (
	"fmt"
	"sort"

	"github.com/rivo/tview"

	"github.com/mataid/matchat/internal/model"
)

// MessageView displays one conversation's messages.
type MessageView struct {
	*tview.TextView
	selfID   string
	peerName string
}

// NewMessageView creates a new message view.
func NewMessageView(selfID string) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv, selfID: selfID}
}

// SetPeerName updates the title with the peer's name.
func (mv *MessageView) SetPeerName(name string) {
	mv.peerName = name
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update refreshes the view with the conversation, oldest first.
func (mv *MessageView) Update(msgs []model.Message, pending map[string]bool) {
	mv.Clear()

	for _, m := range msgs {
		sender := mv.peerName
		if m.SenderID == mv.selfID {
			sender = "You"
		}
		ts := m.Timestamp.Local().Format("15:04")
		marker := ""
		if pending[m.ID] {
			marker = " [yellow]⧗[-]"
		} else if m.SenderID == mv.selfID && m.Read {
			marker = " [green]✓✓[-]"
		}

		_, _ = fmt.Fprintf(mv, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n", tview.Escape(sender), ts, marker)
		if m.Type == model.TypeMaterial && m.Attachment != nil {
			_, _ = fmt.Fprint(mv, renderMaterial(m.Attachment))
		}
		_, _ = fmt.Fprintf(mv, "%s\n\n", tview.Escape(m.Content))
	}

	mv.ScrollToEnd()
}

// renderMaterial formats a shared dataset item as a card.
func renderMaterial(mat *model.Material) string {
	out := fmt.Sprintf("[aqua]┌ %s", tview.Escape(mat.Name))
	if mat.Category != "" {
		out += fmt.Sprintf(" (%s)", tview.Escape(mat.Category))
	}
	out += "[-]\n"

	keys := make([]string, 0, len(mat.Properties))
	for k := range mat.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out += fmt.Sprintf("[aqua]│[-] %s: %s\n", tview.Escape(k), tview.Escape(mat.Properties[k]))
	}
	return out
}
