package tui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/samaelod/wirebench/config"
	"github.com/samaelod/wirebench/engine"
)

type screen int

const (
	screenSourceSelect screen = iota
	screenFilePicker
	screenLoading
	screenDashboard
)

type sourceType int

const (
	sourceLua sourceType = iota
	sourceCapture
	sourceDefaults
)

var sourceNames = []string{"Lua Profile", "Capture File", "Defaults"}

type Model struct {
	screen screen
	source sourceType
	cfg    *config.Config
	err    error

	sess   *session
	onLoad func(*engine.Registry)

	// fileBrowser for selecting profiles and captures
	fileBrowser FileBrowser

	// servers on the left top, everything that sends below
	serverEndpoints     list.Model
	clientEndpoints     list.Model
	activeEndpointPanel int // 0: servers, 1: clients

	width        int
	height       int
	selectedPath string // profile on disk backing the session, if any

	menuCursor int
	activeView int // 0: endpoints, 1: logs

	version string

	logViewport viewport.Model
	logContent  string // cached for the editor
}

const (
	minWindowWidth   = 80
	minWindowHeight  = 20
	defaultListWidth = 34
	minListWidth     = 20
	footerHeight     = 3
)
