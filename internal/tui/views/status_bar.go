package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays persistent profile and connectivity status.
type StatusBar struct {
	*tview.TextView
	profile string
	online  bool
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetOnline updates the connectivity indicator.
func (sb *StatusBar) SetOnline(online bool) {
	sb.online = online
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	state := "[red]OFFLINE[-]"
	if sb.online {
		state = "[green]ONLINE[-]"
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.profile, state, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
