package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/wirebench/stats"
	"github.com/samaelod/wirebench/types"
)

type endpointItem types.Endpoint

func (e endpointItem) DisplayName() string { return types.Endpoint(e).DisplayName() }

func (e endpointItem) Title() string {
	return fmt.Sprintf("[%d] %s", e.ID, e.DisplayName())
}
func (e endpointItem) Description() string { return e.Kind }
func (e endpointItem) FilterValue() string { return e.DisplayName() }

// endpointsDelegate renders one endpoint per line with a status dot.
type endpointsDelegate struct {
	status func(name string) types.EndpointStatus
}

func statusColor(st types.EndpointStatus) lipgloss.Color {
	switch st {
	case types.StatusRunning:
		return colorSecondary
	case types.StatusCompleted:
		return colorSuccess
	case types.StatusError:
		return colorError
	}
	return colorSubtext
}

func renderScrollbar(vp viewport.Model, height int) string {
	total := vp.TotalLineCount()
	visible := vp.VisibleLineCount()

	if total <= visible {
		return ""
	}

	trackHeight := height
	if trackHeight < 1 {
		trackHeight = visible
	}

	scrollPercent := vp.ScrollPercent()

	thumbPos := int(float64(trackHeight-1) * scrollPercent)
	if thumbPos < 0 {
		thumbPos = 0
	}
	if thumbPos > trackHeight-1 {
		thumbPos = trackHeight - 1
	}

	var sb strings.Builder
	for i := 0; i < trackHeight; i++ {
		if i == thumbPos {
			sb.WriteString(scrollbarThumb.Render("█"))
		} else {
			sb.WriteString(scrollbarTrack.Render("│"))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (d endpointsDelegate) Height() int                               { return 1 }
func (d endpointsDelegate) Spacing() int                              { return 0 }
func (d endpointsDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d endpointsDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(endpointItem)
	if !ok {
		return
	}

	dot := "○"
	st := types.StatusIdle
	if d.status != nil {
		st = d.status(i.DisplayName())
	}
	if st != types.StatusIdle {
		dot = "●"
	}
	dot = lipgloss.NewStyle().Foreground(statusColor(st)).Render(dot)

	str := i.Title()
	if index == m.Index() {
		fmt.Fprint(w, "> "+dot+" "+styleSelected.Render(str))
		return
	}
	fmt.Fprint(w, "  "+dot+" "+lipgloss.NewStyle().Foreground(colorText).Render(str))
}

func (m Model) View() string {
	var content string

	// window border and margin
	windowWidth := m.width - 4
	windowHeight := m.height - 4

	if windowWidth < minWindowWidth || windowHeight < minWindowHeight {
		return styleScreenTooSmall.
			Width(m.width).
			Height(m.height).
			Render("Terminal window is too small.\nPlease resize.")
	}

	appTitle := styleAppTitle.Width(windowWidth).Render("WIREBENCH " + m.version)

	switch m.screen {
	case screenSourceSelect:
		cards := make([]string, len(sourceNames))
		for i, name := range sourceNames {
			if i == m.menuCursor {
				cards[i] = styleMenuItemSelected.Render(name)
			} else {
				cards[i] = styleMenuItem.Render(name)
			}
		}
		menuContent := lipgloss.JoinVertical(lipgloss.Center,
			styleTitle.Render("Select Source"),
			"\n",
			lipgloss.JoinHorizontal(lipgloss.Center, cards...),
		)
		content = lipgloss.JoinVertical(lipgloss.Top,
			appTitle,
			lipgloss.Place(
				windowWidth, windowHeight-1,
				lipgloss.Center, lipgloss.Center,
				styleMenuContainer.Render(menuContent),
			),
		)

	case screenFilePicker:
		content = lipgloss.JoinVertical(lipgloss.Top, appTitle, m.viewFilePicker(windowWidth, windowHeight-1))

	case screenLoading:
		status := "Loading..."
		if m.err != nil {
			status = styleError.Render("Error: "+m.err.Error()) + "\n\n" + styleSubtext.Render("esc to go back")
		}
		content = lipgloss.Place(
			windowWidth, windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, appTitle, "\n", status),
		)

	case screenDashboard:
		content = lipgloss.JoinVertical(lipgloss.Top, appTitle, m.viewDashboard(windowWidth, windowHeight-1))
	}

	return styleWindow.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m Model) viewFilePicker(width, height int) string {
	listWidth := width / 3
	previewWidth := width - listWidth

	browserColor := colorSecondary
	if m.fileBrowser.HasMatches() {
		browserColor = colorSuccess
	}

	previewColor := colorSecondary
	if fi, ok := m.fileBrowser.List.SelectedItem().(fileItem); ok && !fi.isDir {
		previewColor = colorError
		if _, ok := m.fileBrowser.Picked(); ok {
			previewColor = colorSuccess
		}
	}

	browserView := stylePanelTitled.
		BorderForeground(browserColor).
		Width(listWidth - 4).
		Height(height).
		Render(styleTitle.MarginBottom(1).Render("Select File") + "\n" + m.fileBrowser.View())

	// -2 border, -1 title, -1 margin, -1 ellipsis
	contentHeight := height - 5
	previewLines := strings.Split(m.fileBrowser.Preview(), "\n")
	if contentHeight > 1 && len(previewLines) > contentHeight {
		previewLines = append(previewLines[:contentHeight-1], "...")
	}
	previewView := stylePanelTitled.
		BorderForeground(previewColor).
		Width(previewWidth).
		Height(height).
		Render(styleTitle.MarginBottom(1).Render("File Preview") + "\n" + strings.Join(previewLines, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, browserView, previewView)
}

func (m Model) viewDashboard(width, height int) string {
	availHeight := height - footerHeight

	listWidth := defaultListWidth
	if listWidth > width/3 {
		listWidth = width / 3
	}
	if listWidth < minListWidth {
		listWidth = minListWidth
	}
	rightWidth := width - listWidth

	// logs grow when focused
	logsHeight := availHeight * 40 / 100
	if m.activeView == 1 {
		logsHeight = availHeight * 70 / 100
	}
	detailsHeight := availHeight - logsHeight
	if detailsHeight < 10 {
		detailsHeight = 10
		logsHeight = availHeight - detailsHeight
	}

	// Left column: servers above, senders below.
	listHeight := (availHeight - 6) / 2
	m.serverEndpoints.SetSize(listWidth-4, listHeight)
	m.clientEndpoints.SetSize(listWidth-4, listHeight)

	panel := func(title string, l list.Model, active bool) string {
		border := colorSubtext
		if active {
			border = colorSecondary
		}
		return stylePanelTitled.
			BorderForeground(border).
			Width(listWidth - 4).
			Height(listHeight + 2).
			Render(styleTitle.MarginBottom(1).Render(title) + "\n" + l.View())
	}
	leftColumn := lipgloss.JoinVertical(lipgloss.Top,
		panel("Servers", m.serverEndpoints, m.activeView == 0 && m.activeEndpointPanel == 0),
		panel("Clients", m.clientEndpoints, m.activeView == 0 && m.activeEndpointPanel == 1),
	)

	// Right top: details and live stats of the selected endpoint.
	detailsContentHeight := detailsHeight - 3
	if detailsContentHeight < 4 {
		detailsContentHeight = 4
	}
	detailsBorder := colorSubtext
	if ep, ok := m.selectedEndpoint(); ok && m.sess != nil {
		detailsBorder = statusColor(m.sess.registry.Status(ep.DisplayName()))
	}
	rightTop := stylePanelTitled.
		BorderForeground(detailsBorder).
		Width(rightWidth).
		Height(detailsHeight).
		Render(styleTitle.MarginBottom(1).Render("Endpoint Details") + "\n" +
			renderEndpointDetails(m, rightWidth-4, detailsContentHeight))

	// Right bottom: log ring.
	logsContentHeight := logsHeight - 6
	if logsContentHeight < 2 {
		logsContentHeight = 2
	}
	m.logViewport.Width = rightWidth - 7
	m.logViewport.Height = logsContentHeight

	logsColor := colorSubtext
	if m.activeView == 1 {
		logsColor = colorSecondary
	}
	scrollbarCol := scrollbarTrack.Width(1).Render(renderScrollbar(m.logViewport, logsContentHeight))
	logsContent := styleTitle.MarginBottom(1).Render("Logs") + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, m.logViewport.View(), scrollbarCol)
	rightBottom := stylePanelTitled.
		BorderForeground(logsColor).
		Width(rightWidth).
		Height(logsHeight - 2).
		Render(logsContent)

	topArea := lipgloss.JoinHorizontal(lipgloss.Top,
		leftColumn,
		lipgloss.JoinVertical(lipgloss.Top, rightTop, rightBottom),
	)

	footerView := styleFooter.
		Width(width - 2).
		Render(m.footer())

	return lipgloss.JoinVertical(lipgloss.Top, topArea, footerView)
}

func (m Model) footer() string {
	key := func(k, desc string) string {
		return styleKey.Render(k) + styleSubtext.Render(" "+desc)
	}
	sep := styleSubtext.Render(" • ")

	if m.err != nil {
		return styleError.Render("Error: " + m.err.Error())
	}

	var hints []string
	if m.activeView == 0 {
		hints = []string{
			key("<tab>", "logs"),
			key("←/→", "switch"),
			key("r", "run"),
			key("s", "stop"),
			key("x", "stop all"),
		}
		if hasExt(m.selectedPath, luaTypes) {
			hints = append(hints, key("e", "edit"))
		}
		if m.selectedPath != "" {
			hints = append(hints, key("u", "reload"))
		}
	} else {
		hints = []string{
			key("<tab>", "endpoints"),
			key("e", "editor"),
			key("g", "top"),
			key("G", "bottom"),
		}
	}
	hints = append(hints, key("esc", "sources"), key("q", "quit"))
	return strings.Join(hints, sep)
}

// detailKeys are shown first, in this order, when present.
var detailKeys = []string{
	stats.BytesSent, stats.BytesReceived,
	stats.PacketsSent, stats.PacketsReceived,
	stats.Errors, stats.InvalidFrames,
	stats.Connections, stats.ClientsConnected, stats.RejectedConnections,
	stats.ConnectionAttempts, stats.SuccessfulConnections, stats.Reconnects,
	stats.FilesSaved,
	stats.ResponseCount, stats.AvgResponseTime, stats.MinResponseTime,
	stats.MaxResponseTime, stats.P50ResponseTime, stats.P95ResponseTime,
}

func formatStat(key string, v float64) string {
	if strings.HasSuffix(key, "_time") {
		return fmt.Sprintf("%.2f ms", v)
	}
	return fmt.Sprintf("%d", int64(v))
}

func renderEndpointDetails(m Model, width, height int) string {
	ep, ok := m.selectedEndpoint()
	if !ok || m.sess == nil {
		return "No endpoint selected"
	}
	name := ep.DisplayName()

	contentWidth := width - 2
	if contentWidth < 0 {
		contentWidth = 0
	}
	valueMaxWidth := contentWidth - styleLabel.GetWidth() - 1
	if valueMaxWidth < 5 {
		valueMaxWidth = 5
	}
	row := func(label, value string) string {
		if len(value) > valueMaxWidth {
			value = value[:valueMaxWidth-1] + "…"
		}
		return styleLabel.Render(label) + styleValue.Render(value)
	}

	variant := ep.Variant
	if variant == "" {
		variant = m.sess.profile.Globals.Variant
	}
	lines := []string{
		row("Kind:", ep.Kind),
		row("Address:", fmt.Sprintf("%s:%d", ep.Address, ep.Port)),
		row("Variant:", variant),
		row("Status:", m.sess.registry.Status(name).String()),
	}

	// Stats in two columns.
	var snap stats.Snapshot
	if c, ok := m.sess.registry.Get(name); ok {
		snap = c.Stats()
	}
	var cells []string
	for _, k := range detailKeys {
		if v, ok := snap[k]; ok {
			cells = append(cells, styleStatKey.Render(k)+" "+formatStat(k, v))
		}
	}
	if len(cells) > 0 {
		lines = append(lines, "", styleSection.Render("Stats"))
		colWidth := contentWidth / 2
		for i := 0; i < len(cells); i += 2 {
			left := lipgloss.NewStyle().Width(colWidth).Render(cells[i])
			right := ""
			if i+1 < len(cells) {
				right = cells[i+1]
			}
			lines = append(lines, left+right)
		}
	}

	// Scripted messages of this endpoint.
	script := m.sess.registry.Script(name)
	lines = append(lines, "", styleSection.Render("Script"))
	if len(script) == 0 {
		lines = append(lines, styleSubtext.Render("No scripted messages."))
	}
	for _, msg := range script {
		value := msg.Value
		if len(value) > 24 {
			value = value[:23] + "…"
		}
		line := fmt.Sprintf("→ [%s] to %d (+%d ms) %s", strings.ToUpper(msg.Kind), msg.To, msg.TDelta, value)
		if len(line) > contentWidth && contentWidth > 1 {
			line = line[:contentWidth-1] + "…"
		}
		lines = append(lines, line)
	}

	if len(lines) > height {
		lines = append(lines[:height-1], styleSubtext.Render("... and more ..."))
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
