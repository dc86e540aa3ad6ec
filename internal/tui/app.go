// Package tui is the terminal client: a conversation list, a message
// thread with composer, and a researcher search page, all driven by
// the sync engine's bus events.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/mataid/matchat/internal/bus"
	"github.com/mataid/matchat/internal/model"
	"github.com/mataid/matchat/internal/syncengine"
	"github.com/mataid/matchat/internal/tui/views"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	statusBar *views.StatusBar
	convList  *views.ConversationList
	msgView   *views.MessageView
	composer  *views.Composer
	searchV   *views.SearchView

	engine *syncengine.Engine
	api    *syncengine.APIClient
	bus    *bus.Bus
	selfID string

	activeConv string
	activePeer model.User

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(engine *syncengine.Engine, api *syncengine.APIClient, b *bus.Bus, selfID, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		msgView:   views.NewMessageView(selfID),
		composer:  views.NewComposer(),
		searchV:   views.NewSearchView(),
		engine:    engine,
		api:       api,
		bus:       b,
		selfID:    selfID,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profile + " / " + selfID)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if s := a.convList.Selected(); s != nil {
			a.openConversation(*s)
		}
	})

	a.composer.SetOnSend(a.handleComposerInput)

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			results, err := a.api.Search(a.ctx, query, a.selfID)
			if err != nil {
				a.flash("Search failed: " + err.Error())
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})

	a.searchV.SetOnSelect(func(user model.User) {
		go func() {
			if err := a.api.AddConnection(a.ctx, a.selfID, user.ID); err != nil {
				a.flash("Connect failed: " + err.Error())
				return
			}
			a.flash("Connected with " + user.Name)
			a.refreshSummaries()
			a.app.QueueUpdateDraw(func() {
				a.pages.SwitchToPage("conversations")
				a.app.SetFocus(a.convList)
			})
		}()
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("search", a.searchV, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "chat", "search":
				a.activeConv = ""
				a.pages.SwitchToPage("conversations")
				a.app.SetFocus(a.convList)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.Stop()
				return nil
			case 's':
				if currentPage == "conversations" {
					a.pages.SwitchToPage("search")
					a.app.SetFocus(a.searchV.Input())
					return nil
				}
			case 'i':
				if currentPage == "chat" {
					a.app.SetFocus(a.composer.InputField)
					return nil
				}
			}
		}

		return event
	})
}

// handleComposerInput sends plain text, or interprets a composer
// command: "/material name | category | k=v; k=v" shares a dataset
// item, "/delete" removes your latest message in the thread.
func (a *App) handleComposerInput(text string) {
	peerID := a.activePeer.ID
	if peerID == "" {
		return
	}

	go func() {
		switch {
		case strings.HasPrefix(text, "/material "):
			mat := parseMaterial(strings.TrimPrefix(text, "/material "))
			if _, err := a.engine.Send(a.ctx, peerID, "Shared material: "+mat.Name, model.TypeMaterial, mat); err != nil {
				a.flash("Send failed: " + err.Error())
			}
		case text == "/delete":
			a.deleteLatestOwn()
		default:
			if _, err := a.engine.Send(a.ctx, peerID, text, model.TypeText, nil); err != nil {
				a.flash("Send failed: " + err.Error())
			}
		}
		a.refreshThread()
	}()
}

func (a *App) deleteLatestOwn() {
	msgs, err := a.engine.Messages(a.activeConv)
	if err != nil {
		a.flash("Delete failed: " + err.Error())
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID == a.selfID {
			if err := a.engine.DeleteMessage(a.ctx, a.activeConv, msgs[i].ID); err != nil {
				a.flash("Delete failed: " + err.Error())
			}
			return
		}
	}
	a.flash("No own message to delete")
}

// parseMaterial turns "name | category | k=v; k=v" into an attachment.
func parseMaterial(s string) *model.Material {
	parts := strings.SplitN(s, "|", 3)
	mat := &model.Material{Name: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		mat.Category = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		mat.Properties = make(map[string]string)
		for _, pair := range strings.Split(parts[2], ";") {
			if k, v, ok := strings.Cut(pair, "="); ok {
				mat.Properties[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
	}
	return mat
}

func (a *App) openConversation(s model.Summary) {
	a.activeConv = s.ConversationID
	a.activePeer = s.User
	go func() {
		msgs, err := a.engine.Reload(a.ctx, s.ConversationID)
		if err != nil {
			a.flash("Load failed: " + err.Error())
			return
		}
		if err := a.engine.MarkRead(a.ctx, s.ConversationID); err != nil {
			a.flash("Mark read failed: " + err.Error())
		}
		pending := a.pendingIDs(s.ConversationID)
		name := s.User.Name
		if name == "" {
			name = s.User.ID
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetPeerName(name)
			a.msgView.Update(msgs, pending)
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

func (a *App) pendingIDs(conversationID string) map[string]bool {
	pending := make(map[string]bool)
	if local, err := a.engine.PendingLocal(conversationID); err == nil {
		for _, m := range local {
			pending[m.ID] = true
		}
	}
	return pending
}

// refreshThread redraws the active conversation from the cache.
func (a *App) refreshThread() {
	conv := a.activeConv
	if conv == "" {
		return
	}
	msgs, err := a.engine.Messages(conv)
	if err != nil {
		return
	}
	pending := a.pendingIDs(conv)
	a.app.QueueUpdateDraw(func() {
		if a.activeConv == conv {
			a.msgView.Update(msgs, pending)
		}
	})
}

// refreshSummaries pulls the conversation list, falling back to the
// cached connections when the server is unreachable.
func (a *App) refreshSummaries() {
	summaries, err := a.api.Conversations(a.ctx, a.selfID)
	if err != nil {
		summaries = a.localSummaries()
	}
	a.app.QueueUpdateDraw(func() {
		a.convList.Update(summaries)
	})
}

// localSummaries builds a conversation list from the cache alone so
// the app remains navigable offline.
func (a *App) localSummaries() []model.Summary {
	users, err := a.engine.RefreshConnections(a.ctx)
	if err != nil {
		return nil
	}
	summaries := make([]model.Summary, 0, len(users))
	for _, u := range users {
		convID := model.ConversationID(a.selfID, u.ID)
		s := model.Summary{ConversationID: convID, User: u}
		msgs, err := a.engine.Messages(convID)
		if err == nil && len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			s.LastMessage = &model.LastMessage{
				Content:   last.Content,
				Timestamp: last.Timestamp,
				SenderID:  last.SenderID,
			}
			for _, m := range msgs {
				if m.SenderID == u.ID && !m.Read {
					s.UnreadCount++
				}
			}
		}
		summaries = append(summaries, s)
	}
	return summaries
}

// Run starts the TUI application.
func (a *App) Run() error {
	go a.eventLoop()
	go func() {
		a.refreshSummaries()
		a.startRefreshLoop()
	}()

	return a.app.Run()
}

// eventLoop applies sync engine bus events to the views.
func (a *App) eventLoop() {
	events, unsub := a.bus.Subscribe("", 64)
	defer unsub()

	for {
		select {
		case evt := <-events:
			a.applyEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) applyEvent(evt bus.Event) {
	switch evt.Kind {
	case syncengine.KindGatewayState:
		online, _ := evt.Payload.(bool)
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetOnline(online)
		})
	case syncengine.KindPeerOnline, syncengine.KindPeerOffline:
		userID, _ := evt.Payload.(string)
		online := evt.Kind == syncengine.KindPeerOnline
		a.app.QueueUpdateDraw(func() {
			a.convList.SetPresence(userID, online)
		})
	case syncengine.KindMessageReceived:
		if m, ok := evt.Payload.(*model.Message); ok {
			if m.ConversationID == a.activeConv {
				go func() {
					_ = a.engine.MarkRead(a.ctx, m.ConversationID)
					a.refreshThread()
				}()
			}
			go a.refreshSummaries()
		}
	case syncengine.KindMessageSent, syncengine.KindMessagesRead, syncengine.KindMessageDeleted, syncengine.KindReloaded:
		a.refreshThread()
		go a.refreshSummaries()
	}
}

func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			currentPage, _ := a.pages.GetFrontPage()
			if currentPage == "conversations" {
				a.refreshSummaries()
			}
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetOnline(a.engine.Online())
			})
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) flash(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetFlash(msg)
	})
	go func() {
		time.Sleep(5 * time.Second)
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetFlash("")
		})
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
