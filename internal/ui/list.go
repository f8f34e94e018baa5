package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/shelf/internal/tree"
)

var _ list.Item = nodeItem{}

// nodeItem wraps [tree.NodeDescriptor] to implement [list.Item].
type nodeItem struct {
	node tree.NodeDescriptor
	path tree.Path
}

func (i nodeItem) FilterValue() string { return i.node.Title }
func (i nodeItem) Title() string {
	if i.node.Container {
		return i.node.Title + " ›"
	}
	return i.node.Title
}

func (i nodeItem) Description() string {
	var parts []string
	if i.node.Subtitle != "" {
		parts = append(parts, i.node.Subtitle)
	}
	if i.node.Container {
		parts = append(parts, fmt.Sprintf("%d items", i.node.Children))
	}
	if i.node.Playable {
		if i.node.Streaming {
			parts = append(parts, "stream")
		} else {
			parts = append(parts, "offline")
		}
	}
	return strings.Join(parts, " • ")
}
