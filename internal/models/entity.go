package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags the variant an [Entity] represents.
type Kind int

const (
	KindSong Kind = iota
	KindEpisode
	KindPlaylist
	KindPodcast
)

func (k Kind) String() string {
	switch k {
	case KindSong:
		return "song"
	case KindEpisode:
		return "episode"
	case KindPlaylist:
		return "playlist"
	case KindPodcast:
		return "podcast"
	default:
		return ""
	}
}

// ParseKind is the inverse of [Kind.String].
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "song":
		return KindSong, nil
	case "episode":
		return KindEpisode, nil
	case "playlist":
		return KindPlaylist, nil
	case "podcast":
		return KindPodcast, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", s)
	}
}

// IsPlayable reports whether entities of this kind have downloadable bytes.
func (k Kind) IsPlayable() bool { return k == KindSong || k == KindEpisode }

// IsContainer reports whether entities of this kind hold playables.
func (k Kind) IsContainer() bool { return k == KindPlaylist || k == KindPodcast }

// Entity is a persisted library element. The variant is carried by [Kind].
//
// Entities are handed out by value-like pointers: the store returns a fresh
// Entity for every read, so callers never observe a concurrent mutation.
type Entity struct {
	id             string
	sequence       int
	kind           Kind
	remoteID       string
	name           string
	subtitle       string
	artwork        []byte
	relFilePath    string
	contentType    string
	parentID       string
	cachedChildren int
	addedAt        time.Time
	createdAt      time.Time
	updatedAt      time.Time
}

var _ Containable = (*Entity)(nil)
var _ Model = (*Entity)(nil)

// NewEntity creates an [Entity] of the given kind for a backend-side id.
func NewEntity(sequence int, kind Kind, remoteID, name, subtitle string) *Entity {
	now := time.Now()
	return &Entity{
		sequence:  sequence,
		kind:      kind,
		remoteID:  remoteID,
		name:      name,
		subtitle:  subtitle,
		addedAt:   now,
		createdAt: now,
		updatedAt: now,
	}
}

func (e *Entity) ID() string             { return e.id }
func (e *Entity) Sequence() int          { return e.sequence }
func (e *Entity) Kind() Kind             { return e.kind }
func (e *Entity) RemoteID() string       { return e.remoteID }
func (e *Entity) Name() string           { return e.name }
func (e *Entity) Subtitle() string       { return e.subtitle }
func (e *Entity) Artwork() []byte        { return e.artwork }
func (e *Entity) RelFilePath() string    { return e.relFilePath }
func (e *Entity) ContentType() string    { return e.contentType }
func (e *Entity) ParentID() string       { return e.parentID }
func (e *Entity) CachedChildren() int    { return e.cachedChildren }
func (e *Entity) AddedAt() time.Time     { return e.addedAt }
func (e *Entity) CreatedAt() time.Time   { return e.createdAt }
func (e *Entity) UpdatedAt() time.Time   { return e.updatedAt }

func (e *Entity) SetID(id string)          { e.id = id }
func (e *Entity) SetSequence(seq int)      { e.sequence = seq }
func (e *Entity) SetArtwork(b []byte)      { e.artwork = b }
func (e *Entity) SetRelFilePath(p string)  { e.relFilePath = p }
func (e *Entity) SetContentType(ct string) { e.contentType = ct }
func (e *Entity) SetParentID(id string)    { e.parentID = id }
func (e *Entity) SetCachedChildren(n int)  { e.cachedChildren = n }
func (e *Entity) SetAddedAt(t time.Time)   { e.addedAt = t }
func (e *Entity) SetCreatedAt(t time.Time) { e.createdAt = t }
func (e *Entity) SetUpdatedAt(t time.Time) { e.updatedAt = t }

// IsCached reports local residency. See [Containable].
func (e *Entity) IsCached() bool {
	if e.kind.IsContainer() {
		return e.cachedChildren > 0
	}
	return e.relFilePath != ""
}

// Validate checks required fields.
func (e *Entity) Validate() error {
	if e.id == "" {
		return fmt.Errorf("entity id is required")
	}
	if e.kind.String() == "" {
		return fmt.Errorf("invalid entity kind %d", e.kind)
	}
	if strings.TrimSpace(e.remoteID) == "" {
		return fmt.Errorf("remote id is required")
	}
	if strings.TrimSpace(e.name) == "" {
		return fmt.Errorf("name is required")
	}
	if e.kind == KindEpisode && e.parentID == "" {
		return fmt.Errorf("episode requires a parent podcast")
	}
	return nil
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s %q (%s)", e.kind, e.name, e.id)
}
