package tui

import (
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/samaelod/wirebench/config"
	"github.com/samaelod/wirebench/engine"
	"github.com/samaelod/wirebench/lua"
	"github.com/samaelod/wirebench/types"
)

const refreshInterval = 500 * time.Millisecond

func editorCommand(path string) *exec.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "nano"
	}
	return exec.Command(editor, path)
}

func openLogsInEditor(logContent string) tea.Cmd {
	f, err := os.CreateTemp("", "wirebench-logs-*.log")
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	_, err = f.WriteString(logContent)
	f.Close()
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	tempPath := f.Name()

	return tea.ExecProcess(editorCommand(tempPath), func(err error) tea.Msg {
		os.Remove(tempPath)
		return nil
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.fileBrowser.SetSize(m.width/3-4, m.height-7)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || (msg.String() == "q" && !m.filtering()) {
			if m.sess != nil {
				m.sess.close()
				m.sess = nil
			}
			return m, tea.Quit
		}
	}

	// Session lifecycle messages are handled on any screen.
	switch msg := msg.(type) {
	case sessionMsg:
		if m.sess != nil {
			m.sess.close()
		}
		m.sess = msg.sess
		m.selectedPath = msg.sess.path
		m.err = nil
		m.buildEndpointLists()
		m.logViewport = viewport.New(10, 10)
		m.logContent = m.sess.ring.ReadAll()
		m.logViewport.SetContent(m.logContent)
		m.screen = screenDashboard
		if m.onLoad != nil {
			m.onLoad(m.sess.registry)
		}
		return m, tea.Batch(waitForLog(m.sess.ring), tick(m.sess))

	case errMsg:
		m.err = msg.err
		if m.sess != nil {
			m.sess.log.Error("action failed", zap.Error(msg.err))
		}
		return m, nil

	case editorFinishedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m, loadProfileCmd(m.cfg, sourceLua, m.selectedPath, false)

	case logMsg:
		if m.sess == nil || msg.ring != m.sess.ring {
			return m, nil
		}
		m.logContent = m.sess.ring.ReadAll()
		m.logViewport.SetContent(m.logContent)
		m.logViewport.GotoBottom()
		return m, waitForLog(m.sess.ring)

	case tickMsg:
		if m.sess == nil || msg.sess != m.sess {
			return m, nil
		}
		// re-render stats and status colours
		return m, tick(m.sess)

	case actionDoneMsg:
		return m, nil
	}

	switch m.screen {
	case screenSourceSelect:
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "up", "k", "left", "h":
				m.menuCursor--
				if m.menuCursor < 0 {
					m.menuCursor = len(sourceNames) - 1
				}
			case "down", "j", "right", "l":
				m.menuCursor = (m.menuCursor + 1) % len(sourceNames)
			case "enter":
				m.source = sourceType(m.menuCursor)
				switch m.source {
				case sourceDefaults:
					m.screen = screenLoading
					return m, loadProfileCmd(m.cfg, sourceDefaults, "", false)
				case sourceCapture:
					m.fileBrowser = NewFileBrowser(captureTypes)
					m.fileBrowser.Summarize = captureSummary(m.cfg)
				default:
					m.fileBrowser = NewFileBrowser(luaTypes)
				}
				m.fileBrowser.SetSize(m.width/3-4, m.height-7)
				m.screen = screenFilePicker
			}
		}
		return m, nil

	case screenFilePicker:
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" && !m.filtering() {
			m.screen = screenSourceSelect
			return m, nil
		}

		var cmd tea.Cmd
		m.fileBrowser, cmd = m.fileBrowser.Update(msg)

		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" && !m.filtering() {
			fi, ok := m.fileBrowser.Picked()
			if !ok {
				return m, cmd
			}
			m.screen = screenLoading
			m.err = nil
			return m, loadProfileCmd(m.cfg, m.source, fi.path, true)
		}
		return m, cmd

	case screenLoading:
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" {
			m.screen = screenSourceSelect
			m.err = nil
		}
		return m, nil

	case screenDashboard:
		return m.updateDashboard(msg)
	}

	return m, nil
}

func (m Model) updateDashboard(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok && !m.filtering() {
		switch msg.String() {
		case "tab", "shift+tab":
			m.activeView = (m.activeView + 1) % 2
			return m, nil

		case "esc":
			if m.sess != nil {
				m.sess.close()
				m.sess = nil
			}
			m.screen = screenSourceSelect
			return m, nil

		case "e":
			if m.activeView == 1 {
				return m, openLogsInEditor(m.logContent)
			}
			if hasExt(m.selectedPath, luaTypes) {
				return m, tea.ExecProcess(editorCommand(m.selectedPath), func(err error) tea.Msg {
					return editorFinishedMsg{err}
				})
			}

		case "u":
			if m.activeView == 0 && m.selectedPath != "" {
				return m, loadProfileCmd(m.cfg, sourceFor(m.selectedPath), m.selectedPath, false)
			}

		case "left", "h":
			if m.activeView == 0 {
				m.activeEndpointPanel = 0
			}
		case "right", "l":
			if m.activeView == 0 {
				m.activeEndpointPanel = 1
			}

		case "r":
			if ep, ok := m.selectedEndpoint(); ok && m.sess != nil {
				reg, name := m.sess.registry, ep.DisplayName()
				return m, func() tea.Msg {
					if err := reg.Run(name); err != nil {
						return errMsg{err}
					}
					return actionDoneMsg{}
				}
			}
		case "s":
			if ep, ok := m.selectedEndpoint(); ok && m.sess != nil {
				reg, name := m.sess.registry, ep.DisplayName()
				return m, func() tea.Msg {
					reg.Stop(name)
					return actionDoneMsg{}
				}
			}
		case "x":
			if m.sess != nil {
				reg := m.sess.registry
				return m, func() tea.Msg {
					reg.StopAll()
					return actionDoneMsg{}
				}
			}

		case "g":
			if m.activeView == 1 {
				m.logViewport.GotoTop()
			}
		case "G":
			if m.activeView == 1 {
				m.logViewport.GotoBottom()
			}
		}
	}

	var cmd tea.Cmd
	if m.activeView == 0 {
		if m.activeEndpointPanel == 0 {
			m.serverEndpoints, cmd = m.serverEndpoints.Update(msg)
		} else {
			m.clientEndpoints, cmd = m.clientEndpoints.Update(msg)
		}
	} else {
		m.logViewport, cmd = m.logViewport.Update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// filtering reports whether a list is capturing keystrokes for its filter.
func (m Model) filtering() bool {
	switch m.screen {
	case screenFilePicker:
		return m.fileBrowser.List.SettingFilter()
	case screenDashboard:
		return m.serverEndpoints.SettingFilter() || m.clientEndpoints.SettingFilter()
	}
	return false
}

func (m *Model) buildEndpointLists() {
	var servers, clients []list.Item
	eps := append([]types.Endpoint(nil), m.sess.profile.Endpoints...)
	sort.Slice(eps, func(i, j int) bool { return eps[i].ID < eps[j].ID })
	for _, ep := range eps {
		if types.IsServerKind(ep.Kind) {
			servers = append(servers, endpointItem(ep))
		} else {
			clients = append(clients, endpointItem(ep))
		}
	}

	delegate := endpointsDelegate{status: m.sess.registry.Status}
	listHeight := (m.height - 7) / 2

	m.serverEndpoints = list.New(servers, delegate, defaultListWidth, listHeight)
	m.serverEndpoints.SetShowHelp(false)
	m.serverEndpoints.SetShowTitle(false)

	m.clientEndpoints = list.New(clients, delegate, defaultListWidth, listHeight)
	m.clientEndpoints.SetShowHelp(false)
	m.clientEndpoints.SetShowTitle(false)

	m.activeEndpointPanel = 0
	if len(servers) == 0 {
		m.activeEndpointPanel = 1
	}
}

func (m Model) selectedEndpoint() (endpointItem, bool) {
	var item list.Item
	if m.activeEndpointPanel == 0 {
		item = m.serverEndpoints.SelectedItem()
	} else {
		item = m.clientEndpoints.SelectedItem()
	}
	ep, ok := item.(endpointItem)
	return ep, ok
}

func loadProfileCmd(cfg *config.Config, source sourceType, path string, saveCopy bool) tea.Cmd {
	return func() tea.Msg {
		p, err := loadProfile(cfg, source, path)
		if err != nil {
			return errMsg{err}
		}

		finalPath := path
		if saveCopy && path != "" {
			if finalPath, err = lua.SaveToRecent(p, path); err != nil {
				return errMsg{err}
			}
		}

		sess, err := openSession(cfg, p, finalPath)
		if err != nil {
			return errMsg{err}
		}
		return sessionMsg{sess}
	}
}

type sessionMsg struct{ sess *session }
type errMsg struct{ err error }
type editorFinishedMsg struct{ err error }
type actionDoneMsg struct{}
type tickMsg struct{ sess *session }

type logMsg struct {
	ring *engine.Logger
	line string
}

func tick(s *session) tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{s} })
}

func waitForLog(ring *engine.Logger) tea.Cmd {
	return func() tea.Msg {
		ch := ring.Chan()
		if ch == nil {
			return nil
		}
		line, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg{ring: ring, line: line}
	}
}
