package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/shelf/internal/tree"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	path tree.Path
	err  error
}

var (
	_ tea.Msg = Msg{}
)

const (
	// MsgLoaded reports that the children of path were loaded and the level can be shown.
	MsgLoaded MsgKind = iota
	// MsgPlayed reports that playback of path was handed to the player.
	MsgPlayed
)

// loadedMsg is the constructor for [MsgLoaded]
func loadedMsg(path tree.Path, err error) Msg {
	return Msg{kind: MsgLoaded, path: path, err: err}
}

// playedMsg is the constructor for [MsgPlayed]
func playedMsg(path tree.Path, err error) Msg {
	return Msg{kind: MsgPlayed, path: path, err: err}
}
