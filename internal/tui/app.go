package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/kyodoai/dealdesk/internal/bus"
	"github.com/kyodoai/dealdesk/internal/outbound"
	"github.com/kyodoai/dealdesk/internal/platform"
	"github.com/kyodoai/dealdesk/internal/session"
	"github.com/kyodoai/dealdesk/internal/status"
	"github.com/kyodoai/dealdesk/internal/timeline"
	"github.com/kyodoai/dealdesk/internal/tui/keys"
	"github.com/kyodoai/dealdesk/internal/tui/model"
	"github.com/kyodoai/dealdesk/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	vm       *model.ViewModel
	bus      *bus.Bus
	auth     *platform.Auth
	machine  *status.Machine
	registry *keys.Registry
	logger   *zap.Logger

	statusBar *views.StatusBar
	dealList  *views.DealList
	convo     *views.Conversation
	composer  *views.Composer
	signIn    *views.SignIn

	sessionName string
	onExit      func()
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(vm *model.ViewModel, b *bus.Bus, auth *platform.Auth, machine *status.Machine, sessionName string, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:         tview.NewApplication(),
		pages:       tview.NewPages(),
		vm:          vm,
		bus:         b,
		auth:        auth,
		machine:     machine,
		registry:    keys.NewRegistry(),
		logger:      logger,
		statusBar:   views.NewStatusBar(),
		dealList:    views.NewDealList(),
		convo:       views.NewConversation(),
		composer:    views.NewComposer(),
		signIn:      views.NewSignIn(),
		sessionName: sessionName,
		ctx:         ctx,
		cancel:      cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

// SetOnExit registers a callback invoked when the UI stops.
func (a *App) SetOnExit(fn func()) {
	a.onExit = fn
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal("scan", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:scan", Visible: true,
		Handler: func() {
			go func() { _ = a.vm.ScanDeals(a.ctx) }()
		},
	})
	a.registry.AddPage("conversation", "toggle", &keys.Action{
		Rune: 'a', Key: tcell.KeyRune,
		Description: "a:agent on/off", Visible: true,
		Handler: func() {
			go func() { _ = a.vm.ToggleAI(a.ctx) }()
		},
	})
	a.registry.AddPage("deals", "refresh", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() {
			go func() { _ = a.vm.RefreshDeals(a.ctx) }()
		},
	})
}

func (a *App) setupCallbacks() {
	a.dealList.SetSelectedFunc(func(row, col int) {
		if id := a.dealList.SelectedDeal(); id != "" {
			a.openDeal(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			sent, err := a.vm.SendMessage(a.ctx, text)
			if err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), model.LevelError, 5*time.Second)
				return
			}
			if sent {
				a.app.QueueUpdateDraw(func() {
					a.composer.SetText("")
				})
			}
		}()
	})

	a.signIn.SetOnSubmit(func(email, password string) {
		a.signIn.ShowMessage("Signing in...")
		go func() {
			if err := a.auth.SignIn(a.ctx, email, password); err != nil {
				a.app.QueueUpdateDraw(func() {
					a.signIn.ShowMessage("[red]Sign-in failed: " + err.Error())
				})
				return
			}
			if err := a.auth.SaveToken(session.TokenPath(a.sessionName)); err != nil {
				a.logger.Warn("token save failed", zap.Error(err))
			}
			// Re-scope store queries to the account that just signed in.
			if creds, err := a.auth.Credentials(); err == nil {
				a.vm.SetUserID(creds.UserID)
			}
			_ = a.machine.Transition(status.Ready)
			go func() { _ = a.vm.RefreshDeals(a.ctx) }()
			a.app.QueueUpdateDraw(func() {
				a.pages.SwitchToPage("deals")
				a.app.SetFocus(a.dealList)
			})
		}()
	})
}

func (a *App) setupLayout() {
	convoFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.convo, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("deals", a.dealList, true, true)
	a.pages.AddPage("conversation", convoFlex, true, false)
	a.pages.AddPage("signin", a.signIn, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "conversation" {
			a.closeDeal()
			return nil
		}

		// Text inputs keep all keys.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}
		if currentPage == "signin" {
			return event
		}

		if currentPage == "conversation" && event.Key() == tcell.KeyRune {
			if event.Rune() == 'i' {
				a.app.SetFocus(a.composer.InputField)
				return nil
			}
			// Number keys fire suggested actions.
			if event.Rune() >= '1' && event.Rune() <= '9' {
				if sa, ok := a.convo.SuggestedAt(int(event.Rune()-'1')); ok {
					go func() { _, _ = a.vm.SendSuggested(a.ctx, sa) }()
					return nil
				}
			}
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

func (a *App) openDeal(dealID string) {
	go func() {
		if err := a.vm.SelectDeal(a.ctx, dealID); err != nil {
			a.vm.Flash.Set("Load failed: "+err.Error(), model.LevelError, 5*time.Second)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.convo.Update(a.vm.Transcript())
			a.pages.SwitchToPage("conversation")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

func (a *App) closeDeal() {
	a.pages.SwitchToPage("deals")
	a.app.SetFocus(a.dealList)
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go a.bootstrap()
	go a.eventLoop()
	go a.refreshLoop()

	err := a.app.Run()
	if a.onExit != nil {
		a.onExit()
	}
	return err
}

func (a *App) bootstrap() {
	_ = a.vm.LoadDeals()

	if _, err := a.auth.Credentials(); err != nil {
		_ = a.machine.Transition(status.AuthRequired)
		a.app.QueueUpdateDraw(func() {
			a.pages.SwitchToPage("signin")
			a.app.SetFocus(a.signIn.Form())
		})
		return
	}

	_ = a.machine.Transition(status.Ready)
	if err := a.vm.RefreshDeals(a.ctx); err != nil {
		_ = a.machine.Transition(status.Degraded)
	}
	a.app.QueueUpdateDraw(func() {
		a.dealList.Update(a.vm.GetDeals())
	})
}

// eventLoop applies bus events to the view model.
func (a *App) eventLoop() {
	ch, unsub := a.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			a.handleEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindDealUpserted, bus.KindDealActivated:
		_ = a.vm.LoadDeals()
	case bus.KindMessageUpserted:
		_ = a.vm.LoadTranscript()
		_ = a.vm.LoadDeals()
	case bus.KindMessageConfirmed:
		if p, ok := evt.Payload.(outbound.Confirmed); ok {
			a.vm.ConfirmSend(p.DealID, p.SentAt)
		}
		_ = a.vm.LoadTranscript()
		_ = a.vm.LoadDeals()
	case bus.KindMessageFailed:
		if p, ok := evt.Payload.(outbound.SendFailed); ok {
			a.vm.FailSend(p.DealID)
		}
		_ = a.vm.LoadTranscript()
		_ = a.vm.LoadDeals()
	case bus.KindTimelineStep, bus.KindTimelineDone:
		if u, ok := evt.Payload.(timeline.Update); ok {
			a.vm.ApplyTimeline(u)
		}
	case bus.KindSessionStatus:
		// redraw picks up Machine.Current
		a.redraw()
	}
}

// refreshLoop redraws whenever the view model signals a change.
func (a *App) refreshLoop() {
	for {
		select {
		case <-a.vm.RefreshCh():
			a.redraw()
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) redraw() {
	a.app.QueueUpdateDraw(func() {
		currentPage, _ := a.pages.GetFrontPage()
		switch currentPage {
		case "deals":
			a.dealList.Update(a.vm.GetDeals())
		case "conversation":
			a.convo.Update(a.vm.Transcript())
		}
		a.statusBar.SetStatus(string(a.machine.Current()))
		msg, level := a.vm.Flash.Get()
		a.statusBar.SetFlash(msg, level)
	})
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
