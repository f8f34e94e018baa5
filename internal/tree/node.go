package tree

import (
	"context"

	"github.com/desertthunder/shelf/internal/models"
)

// PlayableFetch hydrates a playable. A non-nil element replaces the item's element.
type PlayableFetch func(ctx context.Context) (models.Containable, error)

// SectionFetch returns a freshly synced playable list for a section.
type SectionFetch func(ctx context.Context) ([]PlayableItem, error)

// PlayableItem is a leaf. Element is owned by the library and never mutated here.
type PlayableItem struct {
	Element models.Containable
	Image   []byte
	Fetch   PlayableFetch // nil when already resolved
}

// NewPlayableItem wraps e, taking its artwork as the image.
func NewPlayableItem(e models.Containable, fetch PlayableFetch) PlayableItem {
	return PlayableItem{Element: e, Image: e.Artwork(), Fetch: fetch}
}

// ContainerItem is a branch below a section.
type ContainerItem struct {
	Element    models.Containable
	Image      []byte
	Containers []ContainerItem
	Playables  []PlayableItem
}

// ItemsCount is the number of children, containers first.
func (c ContainerItem) ItemsCount() int { return len(c.Containers) + len(c.Playables) }

// Section is a top-level tab of the tree.
type Section struct {
	Title      string
	Icon       string
	Containers []ContainerItem
	Playables  []PlayableItem
	Fetch      SectionFetch // nil for static sections
}

func (s *Section) ItemsCount() int { return len(s.Containers) + len(s.Playables) }

// NodeDescriptor is what host surfaces render for a node.
type NodeDescriptor struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle,omitempty"`
	Icon      string `json:"icon,omitempty"`
	Artwork   []byte `json:"artwork,omitempty"`
	Container bool   `json:"container"`
	Playable  bool   `json:"playable"`
	Streaming bool   `json:"streaming"`
	Children  int    `json:"children"`
}

type loadState int

const (
	unloaded loadState = iota
	loading
	loaded
)

func (s loadState) String() string {
	switch s {
	case loading:
		return "loading"
	case loaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

func sectionDescriptor(p Path, s *Section) NodeDescriptor {
	return NodeDescriptor{
		ID:        "section:" + p.String(),
		Path:      p.String(),
		Title:     s.Title,
		Icon:      s.Icon,
		Container: true,
		Children:  s.ItemsCount(),
	}
}

func containerDescriptor(p Path, c ContainerItem) NodeDescriptor {
	d := elementDescriptor(p, c.Element, c.Image)
	d.Container = true
	d.Playable = true
	d.Children = c.ItemsCount()
	return d
}

func playableDescriptor(p Path, item PlayableItem) NodeDescriptor {
	d := elementDescriptor(p, item.Element, item.Image)
	d.Playable = true
	return d
}

func elementDescriptor(p Path, e models.Containable, image []byte) NodeDescriptor {
	d := NodeDescriptor{Path: p.String(), Artwork: image}
	if e == nil {
		return d
	}
	d.ID = e.ID()
	d.Title = e.Name()
	d.Subtitle = e.Subtitle()
	d.Streaming = !e.IsCached()
	if d.Artwork == nil {
		d.Artwork = e.Artwork()
	}
	return d
}
