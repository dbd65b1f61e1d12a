// Package tui is the terminal front end of the session manager: a sign-in/sign-up form
// while signed out and an account panel while signed in.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"m-taji/platform/internal/session"
)

const actionTimeout = 30 * time.Second

// Auth is what the UI needs from the session manager.
type Auth interface {
	State() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
	Login(ctx context.Context, email, password string) (bool, error)
	Register(ctx context.Context, name, email, password string) (bool, error)
	Logout(ctx context.Context) error
	ResendConfirmationEmail(ctx context.Context, email string) (bool, error)
	RefreshSession(ctx context.Context) error
	EnsureProfile(ctx context.Context) (bool, error)
	NotifyFocus()
}

type mode int

const (
	modeSignIn mode = iota
	modeSignUp
)

type field int

const (
	fieldName field = iota
	fieldEmail
	fieldPassword
)

// stateMsg carries a state snapshot published by the manager.
type stateMsg session.State

// resultMsg is the outcome of a user action.
type resultMsg struct {
	action string
	ok     bool
	err    error
}

// App is the root Bubbletea model.
type App struct {
	auth    Auth
	updates chan session.State
	unsub   func()

	state    session.State
	mode     mode
	focus    field
	name     string
	email    string
	password string
	busy     bool
	notice   string
	errText  string
	width    int
}

// NewApp creates the TUI over auth. Call Close when the program exits.
func NewApp(auth Auth) *App {
	a := &App{
		auth:    auth,
		updates: make(chan session.State, 16),
		state:   auth.State(),
		focus:   fieldEmail,
	}
	a.unsub = auth.Subscribe(func(st session.State) {
		// Keep only the newest snapshots when the UI lags.
		select {
		case a.updates <- st:
		default:
			select {
			case <-a.updates:
			default:
			}
			select {
			case a.updates <- st:
			default:
			}
		}
	})
	return a
}

// Close stops listening for state changes.
func (a *App) Close() {
	if a.unsub != nil {
		a.unsub()
	}
}

func (a *App) waitForState() tea.Cmd {
	ch := a.updates
	return func() tea.Msg {
		return stateMsg(<-ch)
	}
}

func (a *App) Init() tea.Cmd {
	return a.waitForState()
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		return a, nil

	case tea.FocusMsg:
		a.auth.NotifyFocus()
		return a, nil

	case stateMsg:
		a.state = session.State(msg)
		return a, a.waitForState()

	case resultMsg:
		a.busy = false
		a.applyResult(msg)
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return a, tea.Quit
	}
	if a.busy {
		return a, nil
	}
	if a.state.IsAuthenticated {
		switch key {
		case "q", "esc":
			return a, tea.Quit
		case "l":
			return a, a.run("logout", func(ctx context.Context) (bool, error) {
				return true, a.auth.Logout(ctx)
			})
		case "r":
			return a, a.run("refresh", func(ctx context.Context) (bool, error) {
				return true, a.auth.RefreshSession(ctx)
			})
		case "p":
			if a.state.Phase != session.PhaseProfilePending {
				return a, nil
			}
			return a, a.run("profile", a.auth.EnsureProfile)
		}
		return a, nil
	}

	switch key {
	case "esc":
		return a, tea.Quit
	case "tab", "down":
		a.focus = a.nextField(1)
	case "shift+tab", "up":
		a.focus = a.nextField(-1)
	case "ctrl+n":
		if a.mode == modeSignIn {
			a.mode = modeSignUp
			a.focus = fieldName
		} else {
			a.mode = modeSignIn
			a.focus = fieldEmail
		}
		a.notice, a.errText = "", ""
	case "ctrl+e":
		email := strings.TrimSpace(a.email)
		if email == "" {
			a.errText = "Enter your email to resend the confirmation."
			return a, nil
		}
		return a, a.run("resend", func(ctx context.Context) (bool, error) {
			return a.auth.ResendConfirmationEmail(ctx, email)
		})
	case "enter":
		return a, a.submit()
	default:
		a.edit(key)
	}
	return a, nil
}

func (a *App) nextField(step int) field {
	fields := []field{fieldEmail, fieldPassword}
	if a.mode == modeSignUp {
		fields = []field{fieldName, fieldEmail, fieldPassword}
	}
	idx := 0
	for i, f := range fields {
		if f == a.focus {
			idx = i
		}
	}
	idx = (idx + step + len(fields)) % len(fields)
	return fields[idx]
}

func (a *App) edit(key string) {
	switch a.focus {
	case fieldName:
		a.name = editRune(a.name, key)
	case fieldEmail:
		a.email = editRune(a.email, key)
	case fieldPassword:
		a.password = editRune(a.password, key)
	}
}

func (a *App) submit() tea.Cmd {
	email, password, name := strings.TrimSpace(a.email), a.password, strings.TrimSpace(a.name)
	if email == "" || password == "" {
		a.errText = "Email and password are required."
		return nil
	}
	if a.mode == modeSignUp {
		return a.run("register", func(ctx context.Context) (bool, error) {
			return a.auth.Register(ctx, name, email, password)
		})
	}
	return a.run("login", func(ctx context.Context) (bool, error) {
		return a.auth.Login(ctx, email, password)
	})
}

// run executes fn off the UI goroutine and reports its outcome as a resultMsg.
func (a *App) run(action string, fn func(ctx context.Context) (bool, error)) tea.Cmd {
	a.busy = true
	a.notice, a.errText = "", ""
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		ok, err := fn(ctx)
		return resultMsg{action: action, ok: ok, err: err}
	}
}

func (a *App) applyResult(r resultMsg) {
	if r.err != nil {
		a.errText = r.err.Error()
		return
	}
	switch r.action {
	case "login":
		a.password = ""
		if !r.ok {
			a.notice = "Signed in. Your profile is still being set up."
		}
	case "register":
		a.password = ""
		if r.ok {
			a.notice = "Account created. Check your email to confirm it, then sign in."
			a.mode = modeSignIn
			a.focus = fieldEmail
		} else {
			a.errText = "Registration failed."
		}
	case "resend":
		if r.ok {
			a.notice = "Confirmation email sent."
		} else {
			a.errText = "Could not resend the confirmation email."
		}
	case "logout":
		a.notice = "Signed out."
	case "refresh":
		if !a.state.IsAuthenticated {
			a.notice = "Your session has ended."
		}
	case "profile":
		if r.ok {
			a.notice = "Profile created."
		}
	}
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("M-TAJI"))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(a.status()))
	b.WriteString("\n\n")

	if a.state.IsAuthenticated {
		b.WriteString(panelStyle.Render(a.accountView()))
		b.WriteString("\n")
	} else {
		b.WriteString(panelStyle.Render(a.formView()))
		b.WriteString("\n")
	}

	switch {
	case a.busy:
		b.WriteString(dimStyle.Render("Working…"))
	case a.errText != "":
		b.WriteString(errorStyle.Render(a.errText))
	case a.notice != "":
		b.WriteString(noticeStyle.Render(a.notice))
	}
	b.WriteString("\n\n")

	switch {
	case a.state.Phase == session.PhaseProfilePending:
		b.WriteString(helpBar("p", "create profile", "l", "sign out", "r", "refresh", "q", "quit"))
	case a.state.IsAuthenticated:
		b.WriteString(helpBar("l", "sign out", "r", "refresh", "q", "quit"))
	default:
		other := "sign up"
		if a.mode == modeSignUp {
			other = "sign in"
		}
		b.WriteString(helpBar("enter", "submit", "tab", "next field", "ctrl+n", other, "ctrl+e", "resend confirmation", "esc", "quit"))
	}
	return b.String()
}

func (a *App) status() string {
	switch {
	case a.state.Loading:
		return "loading…"
	case a.state.Phase == session.PhaseProfilePending:
		return "signed in · profile pending"
	case a.state.IsAuthenticated:
		return "signed in"
	default:
		return "signed out"
	}
}

func (a *App) accountView() string {
	var lines []string
	if u := a.state.User; u != nil {
		lines = append(lines,
			selectedStyle.Render(displayName(u)),
			normalStyle.Render(u.Email),
			dimStyle.Render("role: ")+accentStyle.Render(string(u.Role)),
		)
	} else if s := a.state.Session; s != nil {
		lines = append(lines,
			selectedStyle.Render(s.User.Email),
			dimStyle.Render("Setting up your profile…"),
		)
	}
	if s := a.state.Session; s != nil {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("session expires %s", s.ExpiresAt.Local().Format("15:04"))))
	}
	return strings.Join(lines, "\n")
}

func displayName(u *session.User) string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Email
}

func (a *App) formView() string {
	title := "Sign in"
	if a.mode == modeSignUp {
		title = "Create account"
	}
	lines := []string{selectedStyle.Render(title), ""}
	if a.mode == modeSignUp {
		lines = append(lines, a.fieldLine(fieldName, "Name", a.name))
	}
	lines = append(lines,
		a.fieldLine(fieldEmail, "Email", a.email),
		a.fieldLine(fieldPassword, "Password", mask(a.password)),
	)
	return strings.Join(lines, "\n")
}

func (a *App) fieldLine(f field, label, value string) string {
	prefix := "  "
	labelStyle := dimStyle
	if f == a.focus {
		prefix = accentStyle.Render("› ")
		labelStyle = accentStyle
		value += accentStyle.Render("█")
	}
	return prefix + labelStyle.Render(fmt.Sprintf("%-9s", label)) + normalStyle.Render(value)
}

// Run shows the UI until the user quits or ctx is done. Terminal focus reports are
// forwarded to the manager as focus notifications.
func Run(ctx context.Context, auth Auth) error {
	app := NewApp(auth)
	defer app.Close()
	p := tea.NewProgram(app, tea.WithContext(ctx), tea.WithAltScreen(), tea.WithReportFocus())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
