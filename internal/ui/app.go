// Package ui is the compact terminal surface over the session manager. It
// drives connects, session selection, broadcast toggles, and port forwards;
// the orchestration itself lives in internal/connection and friends.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"sshFleet/internal/config"
	"sshFleet/internal/connection"
	"sshFleet/internal/forward"
	"sshFleet/internal/models"
	"sshFleet/internal/serial"
	"sshFleet/internal/session"
)

// Deps is everything the UI consumes. All of it is built in cmd/sshfleet.
type Deps struct {
	Store    *config.Manager
	Creds    *config.Credentials
	Pool     *connection.Pool
	Forwards *forward.Service
	Sessions *session.Manager
	Log      *logrus.Entry
}

type view int

const (
	viewHosts view = iota
	viewSessions
	viewPrompt
	viewTrust
	viewBroadcast
)

type (
	connectedMsg     struct{ sessionID string }
	connectFailedMsg struct {
		host string
		err  error
	}
	broadcastDoneMsg struct{ report string }
	sessionEventMsg  struct{ event session.Event }
)

// Model is the top-level bubbletea model.
type Model struct {
	deps Deps

	view     view
	cursor   int
	spin     spinner.Model
	busy     bool
	status   string
	quitting bool

	// PendingShell holds the session id whose interactive shell should run
	// once the program exits; main restarts the program afterwards.
	PendingShell string

	prompt      *promptMsg
	promptInput textinput.Model
	promptIdx   int

	trust *trustMsg

	broadcastInput textinput.Model
}

func NewModel(deps Deps) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	pi := textinput.New()
	pi.Prompt = "> "

	bi := textinput.New()
	bi.Prompt = "broadcast> "
	bi.Placeholder = "command to run on selected sessions"

	return &Model{deps: deps, spin: sp, promptInput: pi, broadcastInput: bi}
}

func (m *Model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case promptMsg:
		m.prompt = &msg
		m.promptIdx = 0
		m.preparePromptInput()
		m.view = viewPrompt
		return m, textinput.Blink

	case trustMsg:
		m.trust = &msg
		m.view = viewTrust
		return m, nil

	case connectedMsg:
		m.busy = false
		m.status = "connected"
		m.deps.Sessions.SetCurrent(msg.sessionID)
		m.view = viewSessions
		m.cursor = 0
		return m, nil

	case connectFailedMsg:
		m.busy = false
		m.status = fmt.Sprintf("connect to %s failed: %v", msg.host, msg.err)
		m.view = viewHosts
		return m, nil

	case broadcastDoneMsg:
		m.status = msg.report
		return m, nil

	case sessionEventMsg:
		if msg.event.Type == session.EventClosed && m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.view {
	case viewPrompt:
		return m.handlePromptKey(msg)
	case viewTrust:
		return m.handleTrustKey(msg)
	case viewBroadcast:
		return m.handleBroadcastKey(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		if m.view == viewHosts {
			m.view = viewSessions
		} else {
			m.view = viewHosts
		}
		m.cursor = 0
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.listLen()-1 {
			m.cursor++
		}
	case "enter":
		if m.view == viewHosts {
			return m.startConnect()
		}
		return m.openShell()
	case "x":
		if m.view == viewSessions {
			if s := m.sessionAt(m.cursor); s != nil {
				m.closeSession(s.ID)
			}
		}
	case "X":
		if m.view == viewSessions {
			m.deps.Sessions.CloseAllSessions()
			m.cursor = 0
		}
	case "b":
		m.deps.Sessions.SetBroadcast(!m.deps.Sessions.BroadcastEnabled())
	case " ":
		if m.view == viewSessions {
			if s := m.sessionAt(m.cursor); s != nil {
				m.deps.Sessions.ToggleBroadcastSelection(s.ID)
			}
		}
	case "a":
		m.deps.Sessions.SelectAllForBroadcast()
	case "n":
		m.deps.Sessions.DeselectAllForBroadcast()
	case "c":
		if m.view == viewSessions && m.deps.Sessions.BroadcastEnabled() {
			m.view = viewBroadcast
			m.broadcastInput.SetValue("")
			m.broadcastInput.Focus()
			return m, textinput.Blink
		}
	}
	return m, nil
}

// closeSession closes one session and surfaces failures in the status line.
func (m *Model) closeSession(id string) {
	if err := m.deps.Sessions.CloseSession(id); err != nil {
		m.status = fmt.Sprintf("close failed: %v", err)
	}
}

func (m *Model) listLen() int {
	if m.view == viewHosts {
		return len(m.deps.Store.GetHosts())
	}
	return len(m.deps.Sessions.Sessions())
}

func (m *Model) sessionAt(i int) *session.Session {
	sessions := m.deps.Sessions.Sessions()
	if i < 0 || i >= len(sessions) {
		return nil
	}
	return sessions[i]
}

func (m *Model) startConnect() (tea.Model, tea.Cmd) {
	hosts := m.deps.Store.GetHosts()
	if m.cursor < 0 || m.cursor >= len(hosts) {
		return m, nil
	}
	host := hosts[m.cursor]
	m.busy = true
	m.status = fmt.Sprintf("connecting to %s...", host.Name)
	return m, tea.Batch(m.spin.Tick, m.connectCmd(host))
}

func (m *Model) connectCmd(host models.Host) tea.Cmd {
	return func() tea.Msg {
		sess := m.deps.Sessions.CreateSession(host.Name, &host)

		if host.Kind == models.HostSerial {
			port, err := serial.Open(host.Device)
			if err != nil {
				m.deps.Sessions.Abort(sess.ID)
				return connectFailedMsg{host: host.Name, err: err}
			}
			if err := m.deps.Sessions.AttachSerial(sess.ID, &session.SerialLink{Port: port}); err != nil {
				port.Close()
				m.deps.Sessions.Abort(sess.ID)
				return connectFailedMsg{host: host.Name, err: err}
			}
			return connectedMsg{sessionID: sess.ID}
		}

		req, err := m.deps.Creds.RequestFor(&host)
		if err != nil {
			m.deps.Sessions.Abort(sess.ID)
			return connectFailedMsg{host: host.Name, err: err}
		}
		req.DialTimeout = 10 * time.Second

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		conn, err := m.deps.Pool.Acquire(ctx, req)
		if err != nil {
			m.deps.Sessions.Abort(sess.ID)
			return connectFailedMsg{host: host.Name, err: err}
		}
		if host.KeepAlive {
			conn.StartKeepalive(30 * time.Second)
		}
		if err := m.deps.Sessions.AttachSSH(sess.ID, &session.SSHLink{Conn: conn, Pool: m.deps.Pool}); err != nil {
			m.deps.Pool.Release(conn)
			m.deps.Sessions.Abort(sess.ID)
			return connectFailedMsg{host: host.Name, err: err}
		}

		// Stored forwards come up with the session; a failed one records
		// its error on the handle without touching the session.
		for _, profile := range m.deps.Store.GetForwards(host.Name) {
			if _, err := m.deps.Forwards.Start(conn.Client(), sess.ID, profile); err != nil {
				m.deps.Log.WithFields(logrus.Fields{"profile": profile.Name, "error": err}).Warn("forward rejected")
			}
		}
		return connectedMsg{sessionID: sess.ID}
	}
}

func (m *Model) openShell() (tea.Model, tea.Cmd) {
	s := m.sessionAt(m.cursor)
	if s == nil || !s.Connected() || s.SSH() == nil {
		return m, nil
	}
	m.deps.Sessions.SetCurrent(s.ID)
	m.PendingShell = s.ID
	return m, tea.Quit
}

func (m *Model) preparePromptInput() {
	p := m.prompt.req.Prompts[m.promptIdx]
	m.promptInput.SetValue("")
	m.promptInput.EchoMode = textinput.EchoPassword
	if p.Echo {
		m.promptInput.EchoMode = textinput.EchoNormal
	}
	m.promptInput.Focus()
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.prompt.req.Prompts[m.promptIdx].Response = m.promptInput.Value()
		m.promptIdx++
		if m.promptIdx < len(m.prompt.req.Prompts) {
			m.preparePromptInput()
			return m, textinput.Blink
		}
		m.prompt.done <- nil
		m.prompt = nil
		m.view = viewHosts
		return m, nil
	case "esc", "ctrl+c":
		m.prompt.done <- fmt.Errorf("authentication prompt dismissed")
		m.prompt = nil
		m.view = viewHosts
		return m, nil
	}
	var cmd tea.Cmd
	m.promptInput, cmd = m.promptInput.Update(msg)
	return m, cmd
}

func (m *Model) handleTrustKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y":
		m.trust.done <- connection.TrustRemember
	case "o":
		m.trust.done <- connection.TrustOnce
	case "n", "esc":
		m.trust.done <- connection.TrustReject
	default:
		return m, nil
	}
	m.trust = nil
	m.view = viewHosts
	return m, nil
}

func (m *Model) handleBroadcastKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		line := m.broadcastInput.Value()
		m.view = viewSessions
		if line == "" {
			return m, nil
		}
		return m, m.broadcastCmd(line)
	case "esc":
		m.view = viewSessions
		return m, nil
	}
	var cmd tea.Cmd
	m.broadcastInput, cmd = m.broadcastInput.Update(msg)
	return m, cmd
}

// broadcastCmd fans a command out to every selected, connected session.
func (m *Model) broadcastCmd(line string) tea.Cmd {
	targets := m.deps.Sessions.BroadcastTargets()
	return func() tea.Msg {
		var ok, failed int
		for _, t := range targets {
			if _, err := session.Exec(t, line); err != nil {
				failed++
				m.deps.Log.WithFields(logrus.Fields{"session": t.ID, "error": err}).Warn("broadcast exec failed")
			} else {
				ok++
			}
		}
		return broadcastDoneMsg{report: fmt.Sprintf("broadcast: %d ok, %d failed", ok, failed)}
	}
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	switch m.view {
	case viewPrompt:
		req := m.prompt.req
		b.WriteString(titleStyle.Render(req.Name) + "\n")
		if req.Instruction != "" {
			b.WriteString(itemStyle.Render(req.Instruction) + "\n")
		}
		b.WriteString(itemStyle.Render(req.Prompts[m.promptIdx].Text) + "\n")
		b.WriteString(promptStyle.Render(m.promptInput.View()) + "\n")
		b.WriteString(helpStyle.Render("enter confirm · esc cancel"))
		return b.String()

	case viewTrust:
		t := m.trust
		b.WriteString(titleStyle.Render("Unknown host key") + "\n")
		b.WriteString(itemStyle.Render(fmt.Sprintf("%s (%s)", t.host, t.keyType)) + "\n")
		b.WriteString(itemStyle.Render(t.fingerprint) + "\n")
		b.WriteString(helpStyle.Render("y remember · o once · n reject"))
		return b.String()

	case viewBroadcast:
		b.WriteString(titleStyle.Render("Broadcast input") + "\n")
		b.WriteString(promptStyle.Render(m.broadcastInput.View()) + "\n")
		b.WriteString(helpStyle.Render("enter send · esc back"))
		return b.String()
	}

	if m.view == viewHosts {
		b.WriteString(titleStyle.Render("Hosts") + "\n")
		for i, h := range m.deps.Store.GetHosts() {
			line := fmt.Sprintf("%s (%s@%s)", h.Name, h.Login, h.IP)
			if h.Kind == models.HostSerial {
				line = fmt.Sprintf("%s (serial %s)", h.Name, h.Device)
			}
			if len(h.ProxyJumps) > 0 {
				line += fmt.Sprintf(" via %d hop(s)", len(h.ProxyJumps))
			}
			b.WriteString(m.renderLine(i, line) + "\n")
		}
	} else {
		title := "Sessions"
		if m.deps.Sessions.BroadcastEnabled() {
			title = "Sessions [broadcast on]"
		}
		b.WriteString(titleStyle.Render(title) + "\n")
		current := m.deps.Sessions.Current()
		for i, s := range m.deps.Sessions.Sessions() {
			mark := " "
			if m.deps.Sessions.IsSelectedForBroadcast(s.ID) {
				mark = "*"
			}
			cur := " "
			if current != nil && current.ID == s.ID {
				cur = ">"
			}
			state := statusBad.Render("pending")
			if s.Connected() {
				state = statusGood.Render("connected")
			}
			line := fmt.Sprintf("%s%s %s %s", cur, mark, s.Title, state)
			if n := len(m.deps.Forwards.ForSession(s.ID)); n > 0 {
				line += fmt.Sprintf(" (%d fwd)", n)
			}
			b.WriteString(m.renderLine(i, line) + "\n")
		}
	}

	if m.busy {
		b.WriteString("\n" + m.spin.View() + itemStyle.Render(m.status))
	} else if m.status != "" {
		b.WriteString("\n" + itemStyle.Render(m.status))
	}
	b.WriteString("\n" + helpStyle.Render("tab switch · enter connect/shell · space select · b broadcast · c command · x close · q quit"))
	return paneStyle.Render(b.String())
}

func (m *Model) renderLine(i int, line string) string {
	if i == m.cursor {
		return selectedStyle.Render("→ " + line)
	}
	return itemStyle.Render("  " + line)
}

// ForwardEvents pumps session manager events into the program so the view
// refreshes; the returned cancel stops the pump.
func ForwardEvents(p *tea.Program, mgr *session.Manager) func() {
	events, cancel := mgr.Subscribe()
	go func() {
		for ev := range events {
			p.Send(sessionEventMsg{event: ev})
		}
	}()
	return cancel
}
