package ui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/shelf/internal/tree"
)

// Tree is the pull protocol the browser drives.
type Tree interface {
	ChildCount(p tree.Path) int
	Children(p tree.Path) (int, []tree.NodeDescriptor)
	ContentAt(p tree.Path) (tree.NodeDescriptor, bool)
	LoadChildren(p tree.Path) <-chan tree.LoadResult
}

// Playback starts playback of the item at a path.
type Playback interface {
	InitiatePlayback(p tree.Path) <-chan error
}

// Model represents the browser state.
type Model struct {
	tree     Tree
	playback Playback
	path     tree.Path // level being shown
	pending  tree.Path // level being loaded, nil when idle
	cursor   map[string]int
	list     list.Model
	status   string
	err      error
	width    int
	height   int
	help     help.Model
	keys     keyMap
}

// NewModel creates a browser positioned at the root. playback may be nil.
func NewModel(t Tree, playback Playback) *Model {
	m := &Model{
		tree:     t,
		playback: playback,
		path:     tree.Path{},
		cursor:   make(map[string]int),
		help:     help.New(),
		keys:     newKeyMap(),
	}
	m.list = list.New(nil, list.NewDefaultDelegate(), 0, 0)
	m.list.SetShowHelp(false)
	m.list.Styles.Title = styles.title
	m.rebuild()
	return m
}

// Init loads the root level.
func (m *Model) Init() tea.Cmd {
	return m.open(tree.Path{})
}

// Path returns the level being shown.
func (m *Model) Path() tree.Path { return m.path }

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.back):
			return m, m.up()
		case key.Matches(msg, m.keys.reload):
			return m, m.open(m.path)
		case key.Matches(msg, m.keys.enter):
			return m, m.enter()
		}

	case Msg:
		return m, m.handle(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handle(msg Msg) tea.Cmd {
	switch msg.kind {
	case MsgLoaded:
		if m.pending == nil || !slices.Equal(m.pending, msg.path) {
			return nil
		}
		m.pending = nil
		m.err = msg.err
		m.cursor[m.path.String()] = m.list.Index()
		m.path = msg.path
		m.rebuild()
		if msg.err != nil {
			m.status = ""
		} else {
			m.status = fmt.Sprintf("%d items", m.tree.ChildCount(m.path))
		}

	case MsgPlayed:
		m.err = msg.err
		if msg.err == nil {
			if d, ok := m.tree.ContentAt(msg.path); ok {
				m.status = "▶ " + d.Title
			}
		}
	}
	return nil
}

// enter opens the selected container or plays the selected leaf.
func (m *Model) enter() tea.Cmd {
	selected, ok := m.list.SelectedItem().(nodeItem)
	if !ok {
		return nil
	}
	if selected.node.Container && len(selected.path) < tree.MaxDepth {
		return m.open(selected.path)
	}
	return m.play(selected.path)
}

func (m *Model) up() tea.Cmd {
	if len(m.path) == 0 {
		return nil
	}
	m.cursor[m.path.String()] = m.list.Index()
	m.path = m.path[:len(m.path)-1]
	m.pending = nil
	m.err = nil
	m.rebuild()
	return nil
}

// open loads the children of p and switches to it once they are there.
func (m *Model) open(p tree.Path) tea.Cmd {
	p = slices.Clone(p)
	m.pending = p
	m.status = "loading…"

	results := m.tree.LoadChildren(p)
	return func() tea.Msg {
		res := <-results
		return loadedMsg(p, res.Err)
	}
}

// play hydrates the leaf at p, then hands it to the player.
func (m *Model) play(p tree.Path) tea.Cmd {
	if m.playback == nil {
		m.status = "playback disabled"
		return nil
	}
	p = slices.Clone(p)
	m.status = "resolving…"

	loads := m.tree.LoadChildren(p)
	return func() tea.Msg {
		<-loads
		return playedMsg(p, <-m.playback.InitiatePlayback(p))
	}
}

func (m *Model) rebuild() {
	_, children := m.tree.Children(m.path)
	items := make([]list.Item, 0, len(children))
	for i, d := range children {
		items = append(items, nodeItem{node: d, path: m.path.Child(i)})
	}

	m.list.SetItems(items)
	m.list.Title = m.title()
	m.list.Select(min(m.cursor[m.path.String()], max(len(items)-1, 0)))
}

func (m *Model) title() string {
	if len(m.path) == 0 {
		return "Library"
	}
	if d, ok := m.tree.ContentAt(m.path); ok {
		return d.Title
	}
	return m.path.String()
}

func (m *Model) breadcrumb() string {
	crumbs := []string{"Library"}
	for depth := 1; depth <= len(m.path); depth++ {
		if d, ok := m.tree.ContentAt(m.path[:depth]); ok {
			crumbs = append(crumbs, d.Title)
		}
	}
	return strings.Join(crumbs, " / ")
}

// View renders the current level.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(styles.crumb.Render(m.breadcrumb()))
	b.WriteString("\n")
	b.WriteString(m.list.View())
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.status != "":
		b.WriteString(styles.status.Render(m.status))
	}

	b.WriteString("\n\n")
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return b.String()
}
