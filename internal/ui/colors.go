package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#626262")

// Palette is the browser's stylesheet, built with named [lipgloss.Style] fields
type Palette struct {
	title  lipgloss.Style // list header
	crumb  lipgloss.Style // current path
	status lipgloss.Style // last action
	err    lipgloss.Style
	help   lipgloss.Style
}

// NewPalette derives every style from four colors.
func NewPalette(accent, ok, bad, muted string) *Palette {
	return &Palette{
		title:  NewBold(accent),
		crumb:  NewStyle(muted).MarginBottom(1),
		status: NewBold(ok),
		err:    NewBold(bad),
		help:   NewEm(muted),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
