package views

import (
	"fmt"
	"time"

	"github.com/kyodoai/dealdesk/internal/tui/model"
	"github.com/rivo/tview"
)

// StatusBar displays session name, connection status and flash messages.
type StatusBar struct {
	*tview.TextView
	session    string
	status     string
	flash      string
	flashLevel model.Level
}

func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetStatus updates the connection status display.
func (sb *StatusBar) SetStatus(status string) {
	sb.status = status
	sb.render()
}

// SetFlash sets a transient message with its severity.
func (sb *StatusBar) SetFlash(msg string, level model.Level) {
	sb.flash = msg
	sb.flashLevel = level
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.session, sb.status, clock)
	if sb.flash != "" {
		color := "yellow"
		switch sb.flashLevel {
		case model.LevelError:
			color = "red"
		case model.LevelInfo:
			color = "green"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
