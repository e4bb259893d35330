package views

import (
	"github.com/rivo/tview"
)

// SignIn is the credential form shown when no valid session token is
// cached.
type SignIn struct {
	*tview.Flex
	form     *tview.Form
	message  *tview.TextView
	onSubmit func(email, password string)
}

func NewSignIn() *SignIn {
	s := &SignIn{
		form:    tview.NewForm(),
		message: tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter),
	}

	s.form.
		AddInputField("Email", "", 40, nil, nil).
		AddPasswordField("Password", "", 40, '*', nil).
		AddButton("Sign in", func() {
			if s.onSubmit != nil {
				email := s.form.GetFormItemByLabel("Email").(*tview.InputField).GetText()
				password := s.form.GetFormItemByLabel("Password").(*tview.InputField).GetText()
				s.onSubmit(email, password)
			}
		})
	s.form.SetBorder(true).SetTitle(" Sign in ")

	s.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(s.form, 50, 0, true).
			AddItem(nil, 0, 1, false), 11, 0, true).
		AddItem(s.message, 1, 0, false).
		AddItem(nil, 0, 1, false)

	return s
}

// SetOnSubmit sets the callback for the sign-in button.
func (s *SignIn) SetOnSubmit(fn func(email, password string)) {
	s.onSubmit = fn
}

// ShowMessage displays a status line under the form.
func (s *SignIn) ShowMessage(msg string) {
	s.message.SetText(msg)
}

// Form exposes the form for focus handling.
func (s *SignIn) Form() *tview.Form {
	return s.form
}
