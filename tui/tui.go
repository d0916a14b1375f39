package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/wirebench/config"
	"github.com/samaelod/wirebench/engine"
)

// Options wires the dashboard into the program.
type Options struct {
	Version string
	Config  *config.Config
	// ProfilePath skips source selection and loads a Lua profile or a
	// capture straight away.
	ProfilePath string
	// OnLoad is called with every registry the dashboard builds.
	OnLoad func(*engine.Registry)
}

func New(opts Options) Model {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	m := Model{
		screen:      screenSourceSelect,
		cfg:         cfg,
		onLoad:      opts.OnLoad,
		fileBrowser: NewFileBrowser(append(append([]string{}, luaTypes...), captureTypes...)),
		version:     opts.Version,
	}
	m.fileBrowser.Summarize = captureSummary(cfg)
	if opts.ProfilePath != "" {
		m.source = sourceFor(opts.ProfilePath)
		m.selectedPath = opts.ProfilePath
		m.screen = screenLoading
	}
	return m
}

func (m Model) Init() tea.Cmd {
	if m.screen == screenLoading {
		return loadProfileCmd(m.cfg, m.source, m.selectedPath, false)
	}
	return nil
}

func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	final, err := p.Run()
	if m, ok := final.(Model); ok && m.sess != nil {
		m.sess.close()
	}
	return err
}
