package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

// captures above this size are not summarized while browsing
const maxSummarySize = 16 << 20

// FileBrowser lists one directory at a time and previews the entry under
// the cursor. Only files with an allowed extension can be picked.
type FileBrowser struct {
	List         list.Model
	CurrentDir   string
	AllowedTypes []string
	Err          error

	// Summarize renders the preview of a capture file.
	Summarize func(path string) string

	preview     string
	previewPath string
	height      int
}

type fileItem struct {
	name  string
	path  string
	isDir bool
	size  int64
}

func (i fileItem) Title() string {
	if i.isDir {
		return i.name + "/"
	}
	return i.name
}
func (i fileItem) Description() string { return fmt.Sprintf("%d bytes", i.size) }
func (i fileItem) FilterValue() string { return i.name }

// browserDelegate dims files that cannot be picked.
type browserDelegate struct {
	allowed []string
}

func (d browserDelegate) Height() int                         { return 1 }
func (d browserDelegate) Spacing() int                        { return 0 }
func (d browserDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }
func (d browserDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	fi, ok := item.(fileItem)
	if !ok {
		return
	}

	style := styleFileOther
	switch {
	case index == m.Index():
		fmt.Fprint(w, styleSelected.Render("> "+fi.Title()))
		return
	case fi.isDir:
		style = styleFileDir
	case hasExt(fi.name, d.allowed):
		style = styleFileMatch
	}
	fmt.Fprint(w, style.Render("  "+fi.Title()))
}

func NewFileBrowser(allowed []string) FileBrowser {
	cwd, _ := os.Getwd()

	l := list.New(nil, browserDelegate{allowed: allowed}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)

	fb := FileBrowser{List: l, AllowedTypes: allowed}
	fb.chdir(cwd)
	return fb
}

// chdir lists dir: parent link first, then directories, then files, each
// group by name. Hidden entries are skipped.
func (fb *FileBrowser) chdir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fb.Err = err
		return
	}
	fb.CurrentDir, fb.Err = dir, nil

	var items []list.Item
	if parent := filepath.Dir(dir); parent != dir {
		items = append(items, fileItem{name: "..", path: parent, isDir: true})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi := fileItem{name: e.Name(), path: filepath.Join(dir, e.Name()), isDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			fi.size = info.Size()
		}
		items = append(items, fi)
	}

	fb.List.SetItems(items)
	fb.List.ResetSelected()
	fb.previewPath = ""
	fb.updatePreview()
}

// Picked returns the entry under the cursor when it is an allowed file.
func (fb FileBrowser) Picked() (fileItem, bool) {
	fi, ok := fb.List.SelectedItem().(fileItem)
	if !ok || fi.isDir || !hasExt(fi.name, fb.AllowedTypes) {
		return fileItem{}, false
	}
	return fi, true
}

// HasMatches reports whether the current directory holds a pickable file.
func (fb FileBrowser) HasMatches() bool {
	for _, item := range fb.List.Items() {
		if fi, ok := item.(fileItem); ok && !fi.isDir && hasExt(fi.name, fb.AllowedTypes) {
			return true
		}
	}
	return false
}

func (fb FileBrowser) Preview() string { return fb.preview }

func (fb *FileBrowser) updatePreview() {
	fi, ok := fb.List.SelectedItem().(fileItem)
	if !ok {
		fb.preview = ""
		return
	}
	if fi.path == fb.previewPath {
		return
	}
	fb.previewPath = fi.path

	switch {
	case fi.isDir:
		entries, _ := os.ReadDir(fi.path)
		fb.preview = fmt.Sprintf("Directory: %s\n\nItems: %d", fi.name, len(entries))
	case !hasExt(fi.name, fb.AllowedTypes):
		fb.preview = "File type not supported."
	case hasExt(fi.name, luaTypes):
		b, err := os.ReadFile(fi.path)
		if err != nil {
			fb.preview = "Error reading file: " + err.Error()
			return
		}
		fb.preview = clipLines(string(b), fb.height)
	default:
		fb.preview = fmt.Sprintf("Capture file\nSize: %d bytes", fi.size)
		if fb.Summarize != nil && fi.size <= maxSummarySize {
			fb.preview += "\n\n" + fb.Summarize(fi.path)
		}
	}
}

func clipLines(s string, n int) string {
	if n <= 0 {
		n = 10
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n... (truncated)"
}

func (fb FileBrowser) Update(msg tea.Msg) (FileBrowser, tea.Cmd) {
	var cmd tea.Cmd
	fb.List, cmd = fb.List.Update(msg)

	if key, ok := msg.(tea.KeyMsg); ok && !fb.List.SettingFilter() {
		switch key.String() {
		case "enter":
			if fi, ok := fb.List.SelectedItem().(fileItem); ok && fi.isDir {
				fb.chdir(fi.path)
			}
		case "backspace", "left":
			fb.chdir(filepath.Dir(fb.CurrentDir))
		}
	}

	fb.updatePreview()
	return fb, cmd
}

func (fb *FileBrowser) SetSize(width, height int) {
	fb.height = height
	fb.List.SetSize(width, height)
}

func (fb FileBrowser) View() string {
	return fb.List.View()
}
