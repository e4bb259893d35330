package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages. The draft survives
// deal switches; only a successful send clears it.
type Composer struct {
	*tview.InputField
	onSend func(text string)
}

func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && c.onSend != nil {
			c.onSend(c.GetText())
		}
	})

	return c
}

// SetOnSend sets the callback invoked when the user presses Enter. The
// callback decides whether to clear the field.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}
