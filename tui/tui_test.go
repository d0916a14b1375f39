package tui

import (
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/wirebench/config"
	"github.com/samaelod/wirebench/engine"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func TestDefaultsSourceOpensDashboard(t *testing.T) {
	cfg := config.Default()
	cfg.LogsDir = filepath.Join(t.TempDir(), "logs")

	var loaded *engine.Registry
	m := New(Options{Version: "test", Config: cfg, OnLoad: func(r *engine.Registry) { loaded = r }})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 50})
	assert.Contains(t, m.View(), "Select Source")

	m, _ = update(t, m, key("down"))
	m, _ = update(t, m, key("down"))
	m, cmd := update(t, m, key("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, screenLoading, m.screen)

	msg := cmd()
	require.IsType(t, sessionMsg{}, msg)
	m, _ = update(t, m, msg)
	require.Equal(t, screenDashboard, m.screen)
	require.NotNil(t, m.sess)
	assert.Same(t, m.sess.registry, loaded)

	assert.Len(t, m.serverEndpoints.Items(), 2)
	assert.Len(t, m.clientEndpoints.Items(), 4)

	view := m.View()
	assert.Contains(t, view, "tcp-echo")
	assert.Contains(t, view, "Endpoint Details")

	m, cmd = update(t, m, key("q"))
	assert.Nil(t, m.sess)
	require.NotNil(t, cmd)
}

func TestLoadErrorShownOnLoadingScreen(t *testing.T) {
	cfg := config.Default()
	m := New(Options{Config: cfg, ProfilePath: filepath.Join(t.TempDir(), "missing.lua")})
	require.Equal(t, screenLoading, m.screen)

	msg := m.Init()()
	require.IsType(t, errMsg{}, msg)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, msg)
	assert.Contains(t, m.View(), "Error")

	m, _ = update(t, m, key("esc"))
	assert.Equal(t, screenSourceSelect, m.screen)
}

func TestSourceFor(t *testing.T) {
	assert.Equal(t, sourceCapture, sourceFor("dump.PCAPNG"))
	assert.Equal(t, sourceCapture, sourceFor("x.cap"))
	assert.Equal(t, sourceLua, sourceFor("bench.lua"))
}

func TestLoadProfileDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Variant = "b"

	p, err := LoadProfile(cfg, "")
	require.NoError(t, err)
	assert.Len(t, p.Endpoints, 6)
	assert.Equal(t, "b", p.Globals.Variant)
	assert.Equal(t, cfg.ReceiveDir, p.Endpoints[0].ReceiveDir)

	_, err = LoadProfile(cfg, filepath.Join(t.TempDir(), "nothing.pcap"))
	assert.Error(t, err)
}
