package download

import (
	"errors"
	"os"

	"github.com/dhowden/tag"
)

const id3v1Size = 128

// ExtractArtwork returns the embedded cover picture of the audio file at path.
//
// Tags are read through the file handle, so the audio payload is never loaded.
// A file without tags or without a picture yields (nil, nil).
func ExtractArtwork(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	metadata, err := tag.ReadFrom(f)
	switch {
	case errors.Is(err, tag.ErrNoTagsFound):
		return nil, nil
	case err != nil && info.Size() < id3v1Size:
		// too short for the ID3v1 trailer read when no header matched
		return nil, nil
	case err != nil:
		return nil, err
	}

	pic := metadata.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, nil
	}
	return pic.Data, nil
}
