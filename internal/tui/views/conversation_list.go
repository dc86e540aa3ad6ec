package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/mataid/matchat/internal/model"
)

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	summaries []model.Summary
	online    map[string]bool
	filter    string
}

// NewConversationList creates a new conversation list table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetTitle(" Conversations ")
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorAqua))

	return &ConversationList{
		Table:  table,
		online: make(map[string]bool),
	}
}

// Update refreshes the list with new summaries.
func (cl *ConversationList) Update(summaries []model.Summary) {
	cl.summaries = summaries
	cl.render()
}

// SetPresence flips the online marker for a peer and re-renders.
func (cl *ConversationList) SetPresence(userID string, online bool) {
	cl.online[userID] = online
	cl.render()
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

func (cl *ConversationList) matches(s model.Summary) bool {
	if cl.filter == "" {
		return true
	}
	f := strings.ToLower(cl.filter)
	if strings.Contains(strings.ToLower(s.User.Name), f) {
		return true
	}
	return s.LastMessage != nil && strings.Contains(strings.ToLower(s.LastMessage.Content), f)
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(tcell.ColorWhite).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	row := 1
	for _, s := range cl.summaries {
		if !cl.matches(s) {
			continue
		}
		name := s.User.Name
		if name == "" {
			name = s.User.ID
		}
		if cl.online[s.User.ID] {
			name = "● " + name
		}
		if s.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", s.UnreadCount, name)
		}

		preview := ""
		ts := ""
		if s.LastMessage != nil {
			preview = s.LastMessage.Content
			ts = formatTimestamp(s.LastMessage.Timestamp)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(name)).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(preview)).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(ts).SetAlign(tview.AlignRight))
		row++
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", row-1, len(cl.summaries), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.summaries)))
	}
}

// Selected returns the summary under the cursor.
func (cl *ConversationList) Selected() *model.Summary {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx < 0 {
		return nil
	}
	visible := 0
	for i, s := range cl.summaries {
		if !cl.matches(s) {
			continue
		}
		if visible == idx {
			return &cl.summaries[i]
		}
		visible++
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
