package views

import (
	"fmt"

	"github.com/kyodoai/dealdesk/internal/store"
	"github.com/kyodoai/dealdesk/internal/timeline"
	"github.com/kyodoai/dealdesk/internal/tui/model"
	"github.com/rivo/tview"
)

// Conversation renders one deal's transcript: messages, per-message
// action traces, suggested action shortcuts and the reply progress
// pipeline while the agent is working.
type Conversation struct {
	*tview.TextView
	suggested []store.SuggestedAction
}

func NewConversation() *Conversation {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Conversation ")

	return &Conversation{TextView: tv}
}

// Update re-renders the view from a transcript snapshot and auto-scrolls
// to the newest entry.
func (cv *Conversation) Update(t model.Transcript) {
	cv.Clear()
	cv.suggested = nil

	if t.Deal != nil {
		cv.SetTitle(fmt.Sprintf(" %s — %s ", sanitizeForTerminal(t.Deal.FromName), sanitizeForTerminal(t.Deal.Subject)))
	}

	if len(t.Messages) == 0 && !t.ShowTimeline {
		cv.renderWelcome(t.Deal)
		return
	}

	for _, m := range t.Messages {
		cv.renderMessage(m, t.Actions[m.MsgID])
	}

	if t.ShowTimeline {
		cv.renderTimeline(t.Steps)
	}

	cv.ScrollToEnd()
}

// SuggestedAt returns the nth suggested action currently on screen, for
// number-key shortcuts.
func (cv *Conversation) SuggestedAt(n int) (store.SuggestedAction, bool) {
	if n < 0 || n >= len(cv.suggested) {
		return store.SuggestedAction{}, false
	}
	return cv.suggested[n], true
}

func (cv *Conversation) renderWelcome(d *store.Deal) {
	if d == nil {
		_, _ = fmt.Fprint(cv, "\n  Select a deal to start.\n")
		return
	}
	_, _ = fmt.Fprintf(cv, "\n  [::b]%s[-:-:-]\n\n", sanitizeForTerminal(d.Subject))
	if d.Summary != "" {
		_, _ = fmt.Fprintf(cv, "  %s\n\n", sanitizeForTerminal(d.Summary))
	}
	_, _ = fmt.Fprintf(cv, "  From: %s <%s>\n", sanitizeForTerminal(d.FromName), d.FromEmail)
	if d.Company != "" {
		_, _ = fmt.Fprintf(cv, "  Company: %s\n", sanitizeForTerminal(d.Company))
	}
	if d.Budget != "" {
		_, _ = fmt.Fprintf(cv, "  Budget: %s\n", d.Budget)
	}
	_, _ = fmt.Fprint(cv, "\n  [::d]No messages yet. Type below to ask the agent about this deal.[-:-:-]\n")
}

func (cv *Conversation) renderMessage(m store.Message, actions []store.Action) {
	sender := "Agent"
	if m.Author == "user" {
		sender = "You"
	}

	state := ""
	switch m.State {
	case store.StatePendingLocal:
		state = " [yellow](sending)[-]"
	case store.StateFailed:
		state = " [red](failed)[-]"
	}

	ts := formatTimestamp(m.CreatedAt)
	_, _ = fmt.Fprintf(cv, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n", sender, ts, state, sanitizeForTerminal(m.Body))

	for _, a := range actions {
		_, _ = fmt.Fprintf(cv, "  [::d]· %s[-:-:-]\n", sanitizeForTerminal(a.Summary))
	}

	for _, sa := range m.SuggestedActions {
		idx := len(cv.suggested) + 1
		cv.suggested = append(cv.suggested, sa)
		_, _ = fmt.Fprintf(cv, "  [green][%d][-] %s [::d]— %s[-:-:-]\n", idx, sanitizeForTerminal(sa.Name), sanitizeForTerminal(sa.Description))
	}

	_, _ = fmt.Fprint(cv, "\n")
}

func (cv *Conversation) renderTimeline(steps []timeline.Step) {
	_, _ = fmt.Fprint(cv, "[::b]Agent[-:-:-] [::d]working...[-:-:-]\n")
	for _, s := range steps {
		var mark string
		switch s.Status {
		case timeline.StatusCompleted:
			mark = "[green]✓[-]"
		case timeline.StatusActive:
			mark = "[yellow]●[-]"
		case timeline.StatusError:
			mark = "[red]✗[-]"
		default:
			mark = "[::d]○[-:-:-]"
		}
		_, _ = fmt.Fprintf(cv, "  %s %s\n", mark, s.Label)
	}
	_, _ = fmt.Fprint(cv, "\n")
}
