package tree

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/shared"
)

// SectionSource builds the sections for [Tree.Populate] from local data.
//
// It must return every section even when some could not be read, together with the
// joined read errors.
type SectionSource interface {
	Sections(ctx context.Context) ([]*Section, error)
}

// LoadResult completes a [Tree.LoadChildren] request. Err is nil on success or when
// there was nothing to load.
type LoadResult struct {
	Path Path
	Err  error
}

// applyFunc builds the replacement for the section a fetch belongs to.
// It returns nil when the section changed in a way that makes the result stale.
type applyFunc func(current *Section) *Section

type loadJob struct {
	fetch func(ctx context.Context) (applyFunc, error)
	retry bool // a failed job goes back to unloaded
}

type loadEntry struct {
	state   loadState
	waiters []chan LoadResult
}

// Tree owns the sections and their load state.
type Tree struct {
	source SectionSource
	base   context.Context
	logger *log.Logger

	mu         sync.RWMutex
	sections   []*Section
	generation uint64
	loads      map[string]*loadEntry
}

// New creates an empty tree. Fetch actions run on ctx.
func New(ctx context.Context, source SectionSource, logger *log.Logger) *Tree {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Tree{
		source: source,
		base:   ctx,
		logger: shared.WithLogger(logger, "component", "tree"),
		loads:  make(map[string]*loadEntry),
	}
}

// Populate rebuilds every section from the source and resets all load states.
//
// The new sections are published even when the source reports errors.
func (t *Tree) Populate(ctx context.Context) error {
	sections, err := t.source.Sections(ctx)

	t.mu.Lock()
	t.sections = sections
	t.generation++
	t.loads = make(map[string]*loadEntry)
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("tree populated with errors", "sections", len(sections), "error", err)
		return err
	}
	t.logger.Debug("tree populated", "sections", len(sections))
	return nil
}

// ChildCount returns the number of children at p, or 0 when p does not resolve.
func (t *Tree) ChildCount(p Path) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(p) == 0 {
		return len(t.sections)
	}
	n, ok := t.resolve(p)
	if !ok {
		return 0
	}
	return n.children()
}

// Children returns the child count of p and the descriptors of those children,
// read from one version of the sections.
func (t *Tree) Children(p Path) (int, []NodeDescriptor) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var count int
	if len(p) == 0 {
		count = len(t.sections)
	} else if n, ok := t.resolve(p); ok {
		count = n.children()
	}

	out := make([]NodeDescriptor, 0, count)
	for i := range count {
		if d, ok := t.describe(p.Child(i)); ok {
			out = append(out, d)
		}
	}
	return count, out
}

// ContentAt describes the node at p.
func (t *Tree) ContentAt(p Path) (NodeDescriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.describe(p)
}

// describe must be called with t.mu held.
func (t *Tree) describe(p Path) (NodeDescriptor, bool) {
	n, ok := t.resolve(p)
	if !ok {
		return NodeDescriptor{}, false
	}

	switch {
	case n.playable != nil:
		return playableDescriptor(p, *n.playable), true
	case n.container != nil:
		return containerDescriptor(p, *n.container), true
	default:
		return sectionDescriptor(p, n.section), true
	}
}

// ElementAt returns the library element of the item at p.
func (t *Tree) ElementAt(p Path) (models.Containable, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.resolve(p)
	if !ok || len(p) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, p)
	}
	if n.playable != nil {
		return n.playable.Element, nil
	}
	return n.container.Element, nil
}

// Snapshot returns a copy of the current sections.
func (t *Tree) Snapshot() []Section {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Section, len(t.sections))
	for i, s := range t.sections {
		out[i] = *s
	}
	return out
}

// LoadChildren loads the children of p and delivers exactly one result on the
// returned channel, then closes it.
//
// Concurrent requests for the same node share one fetch. A loaded node completes
// without fetching again until the next [Tree.Populate].
func (t *Tree) LoadChildren(p Path) <-chan LoadResult {
	out := make(chan LoadResult, 1)
	p = slices.Clone(p)

	t.mu.Lock()
	job, err := t.plan(p)
	if err != nil || job == nil {
		t.mu.Unlock()
		out <- LoadResult{Path: p, Err: err}
		close(out)
		return out
	}

	key := p.key()
	entry, ok := t.loads[key]
	if !ok {
		entry = &loadEntry{}
		t.loads[key] = entry
	}

	switch entry.state {
	case loaded:
		t.mu.Unlock()
		out <- LoadResult{Path: p}
		close(out)
		return out
	case loading:
		entry.waiters = append(entry.waiters, out)
		t.mu.Unlock()
		return out
	}

	entry.state = loading
	entry.waiters = append(entry.waiters, out)
	gen := t.generation
	t.mu.Unlock()

	go t.run(gen, p, entry, job)
	return out
}

// LoadChildrenFunc is [Tree.LoadChildren] for callback-style hosts. onDone is called
// exactly once, from another goroutine.
func (t *Tree) LoadChildrenFunc(p Path, onDone func(error)) {
	results := t.LoadChildren(p)
	go func() {
		res := <-results
		if onDone != nil {
			onDone(res.Err)
		}
	}()
}

func (t *Tree) run(gen uint64, p Path, entry *loadEntry, job *loadJob) {
	apply, err := t.fetch(job)

	t.mu.Lock()
	if err == nil && apply != nil && gen == t.generation && p[0] < len(t.sections) {
		if next := apply(t.sections[p[0]]); next != nil {
			t.sections[p[0]] = next
			if len(p) == 1 {
				t.resetBelow(p)
			}
		} else {
			t.logger.Debug("dropping stale load result", "path", p.String())
		}
	}

	if err != nil && job.retry {
		entry.state = unloaded
	} else {
		entry.state = loaded
	}
	waiters := entry.waiters
	entry.waiters = nil
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("load failed", "path", p.String(), "error", err)
	}

	for _, w := range waiters {
		w <- LoadResult{Path: p, Err: err}
		close(w)
	}
}

func (t *Tree) fetch(job *loadJob) (apply applyFunc, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load panicked: %v", r)
		}
	}()
	return job.fetch(t.base)
}

// resetBelow forgets the load state of every descendant of p.
func (t *Tree) resetBelow(p Path) {
	prefix := p.key() + "."
	for key := range t.loads {
		if strings.HasPrefix(key, prefix) {
			delete(t.loads, key)
		}
	}
}

// plan decides what loading p means. A nil job means there is nothing to do.
// Must be called with t.mu held.
func (t *Tree) plan(p Path) (*loadJob, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if len(p) > MaxDepth || p[0] < 0 || p[0] >= len(t.sections) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, p)
	}

	s := t.sections[p[0]]
	switch len(p) {
	case 1:
		if len(s.Containers) > 0 || s.Fetch == nil {
			return nil, nil
		}
		return sectionJob(s.Fetch), nil

	case 2:
		i := p[1]
		if i < 0 || i >= s.ItemsCount() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPath, p)
		}
		if len(s.Containers) > 0 {
			return nil, nil
		}
		item := s.Playables[i]
		if item.Fetch == nil {
			return nil, nil
		}
		return playableJob(item, func(cur *Section, replace func(PlayableItem) PlayableItem) *Section {
			if len(cur.Containers) > 0 || i >= len(cur.Playables) || !sameElement(cur.Playables[i].Element, item.Element) {
				return nil
			}
			next := *cur
			next.Playables = slices.Clone(cur.Playables)
			next.Playables[i] = replace(cur.Playables[i])
			return &next
		}), nil

	default:
		i, j := p[1], p[2]
		if i < 0 || i >= len(s.Containers) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPath, p)
		}
		c := s.Containers[i]
		if j < 0 || j >= c.ItemsCount() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPath, p)
		}
		if len(c.Containers) > 0 {
			return nil, nil
		}
		item := c.Playables[j]
		if item.Fetch == nil {
			return nil, nil
		}
		return playableJob(item, func(cur *Section, replace func(PlayableItem) PlayableItem) *Section {
			if i >= len(cur.Containers) {
				return nil
			}
			container := cur.Containers[i]
			if len(container.Containers) > 0 || j >= len(container.Playables) || !sameElement(container.Playables[j].Element, item.Element) {
				return nil
			}
			container.Playables = slices.Clone(container.Playables)
			container.Playables[j] = replace(container.Playables[j])

			next := *cur
			next.Containers = slices.Clone(cur.Containers)
			next.Containers[i] = container
			return &next
		}), nil
	}
}

func sectionJob(fetch SectionFetch) *loadJob {
	return &loadJob{
		fetch: func(ctx context.Context) (applyFunc, error) {
			items, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			return func(cur *Section) *Section {
				next := *cur
				next.Playables = items
				return &next
			}, nil
		},
	}
}

func playableJob(item PlayableItem, rebuild func(*Section, func(PlayableItem) PlayableItem) *Section) *loadJob {
	return &loadJob{
		retry: true,
		fetch: func(ctx context.Context) (applyFunc, error) {
			element, err := item.Fetch(ctx)
			if err != nil {
				return nil, err
			}
			if element == nil {
				return nil, nil
			}
			return func(cur *Section) *Section {
				return rebuild(cur, func(old PlayableItem) PlayableItem {
					image := old.Image
					if image == nil {
						image = element.Artwork()
					}
					return PlayableItem{Element: element, Image: image, Fetch: old.Fetch}
				})
			}, nil
		},
	}
}

func sameElement(a, b models.Containable) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID() == b.ID()
}

type node struct {
	section   *Section
	container *ContainerItem
	playable  *PlayableItem
}

func (n node) children() int {
	switch {
	case n.playable != nil:
		return 0
	case n.container != nil:
		return n.container.ItemsCount()
	default:
		return n.section.ItemsCount()
	}
}

// resolve finds the node at a non-root path. Must be called with t.mu held.
func (t *Tree) resolve(p Path) (node, bool) {
	if len(p) == 0 || len(p) > MaxDepth || p[0] < 0 || p[0] >= len(t.sections) {
		return node{}, false
	}

	s := t.sections[p[0]]
	n := node{section: s}
	if len(p) == 1 {
		return n, true
	}

	container, playable, ok := child(s.Containers, s.Playables, p[1])
	if !ok {
		return node{}, false
	}
	n.container, n.playable = container, playable
	if len(p) == 2 {
		return n, true
	}

	if n.container == nil {
		return node{}, false
	}
	container, playable, ok = child(n.container.Containers, n.container.Playables, p[2])
	if !ok {
		return node{}, false
	}
	n.container, n.playable = container, playable
	return n, true
}

// child picks index i from containers followed by playables.
func child(containers []ContainerItem, playables []PlayableItem, i int) (*ContainerItem, *PlayableItem, bool) {
	switch {
	case i < 0:
		return nil, nil, false
	case i < len(containers):
		return &containers[i], nil, true
	case i < len(containers)+len(playables):
		return nil, &playables[i-len(containers)], true
	default:
		return nil, nil, false
	}
}
