// package models defines the data model for the media library client
package models

import (
	"time"
)

// Model defines the base interface for all persistent models in the library.
// Implementations include Entity.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Update(model T) error                      // Update modifies an existing model in the database
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// Containable is the capability shared by everything the browsing tree can address.
//
// Songs and episodes are playable leaves; playlists and podcasts hold playables.
// IsCached reports local residency: for a leaf it means the bytes are on disk,
// for a container it means at least one child is.
type Containable interface {
	ID() string
	Kind() Kind
	Name() string
	Subtitle() string
	IsCached() bool
	Artwork() []byte
}

// FormatInfo describes the transcoding format the backend negotiated for a source URL.
type FormatInfo struct {
	Format string // container/codec short name, e.g. "mp3"
	MIME   string // MIME type stored on the playable, e.g. "audio/mpeg"
}

// PlayContext is handed to the player facade when playback is requested.
type PlayContext struct {
	Element Containable
	Name    string
	Index   int // start position inside Element when it is a container
}

// NewPlayContext builds a [PlayContext] that starts at the first item of c.
func NewPlayContext(c Containable) PlayContext {
	return PlayContext{Element: c, Name: c.Name()}
}
