package formatter

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/shared"
	th "github.com/desertthunder/shelf/internal/testing"
	"github.com/desertthunder/shelf/internal/tree"
)

type listingSource struct{}

func (listingSource) Sections(ctx context.Context) ([]*tree.Section, error) {
	song := func(id, name, artist string, cached bool) tree.PlayableItem {
		e := models.NewEntity(1, models.KindSong, "r-"+id, name, artist)
		e.SetID(id)
		if cached {
			e.SetRelFilePath("song/" + id)
		}
		return tree.NewPlayableItem(e, nil)
	}
	playlist := models.NewEntity(1, models.KindPlaylist, "r-pl", "Road Trip", "")
	playlist.SetID("pl")
	playlist.SetArtwork([]byte("\x89PNG\r\n\x1a\nfake"))

	return []*tree.Section{
		{Title: "Playlists", Containers: []tree.ContainerItem{{
			Element:   playlist,
			Image:     playlist.Artwork(),
			Playables: []tree.PlayableItem{song("a", "Alpha", "Band, The", true), song("b", "Beta", "", false)},
		}}},
		{Title: "Recent Songs", Playables: []tree.PlayableItem{song("c", "Gamma", "Solo", false)}},
		{Title: "Podcasts"},
	}, nil
}

func listing(t *testing.T) []Row {
	t.Helper()
	tr := tree.New(context.Background(), listingSource{}, nil)
	if err := tr.Populate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return Flatten(tr, tree.Path{})
}

func TestFlatten(t *testing.T) {
	rows := listing(t)

	paths := make([]string, len(rows))
	for i, r := range rows {
		paths[i] = r.Path
	}
	want := "0,0.0,0.0.0,0.0.1,1,1.0,2"
	if got := strings.Join(paths, ","); got != want {
		t.Fatalf("Flatten() paths = %s, want %s", got, want)
	}

	if rows[2].Depth != 3 || rows[2].Streaming {
		t.Errorf("cached track should not stream: %+v", rows[2])
	}
	if !rows[3].Streaming {
		t.Errorf("uncached track should stream: %+v", rows[3])
	}
	if rows[0].Streaming || !rows[0].Container || rows[0].Children != 1 {
		t.Errorf("unexpected section row %+v", rows[0])
	}
}

func TestExporters(t *testing.T) {
	rows := listing(t)

	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(rows)
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)
		if !strings.HasPrefix(output, "Path,ID,Title,Subtitle,Container,Streaming,Children\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, `0.0.0,a,Alpha,"Band, The",false,false,0`) {
			t.Errorf("CSV should quote fields with commas, got: %s", output)
		}
		if got := strings.Count(output, "\n"); got != len(rows)+1 {
			t.Errorf("expected %d lines, got %d", len(rows)+1, got)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown("", rows, map[string]string{"0.0": "covers/pl.png"})
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# Library",
			"- **Playlists**",
			"  - Road Trip (2 items) ![cover](covers/pl.png)",
			"    - Alpha - Band, The `offline`",
			"    - Beta\n",
			"- **Podcasts**",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(rows)
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) != len(rows) {
			t.Fatalf("expected %d lines, got %d", len(rows), len(lines))
		}
		if !strings.HasPrefix(lines[0], "0 ") || !strings.Contains(lines[0], "+ Playlists") {
			t.Errorf("unexpected section line %q", lines[0])
		}
		if !strings.Contains(lines[2], "* Alpha - Band, The") {
			t.Errorf("cached track should be marked, got %q", lines[2])
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(rows)
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var decoded []map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded) != len(rows) {
			t.Errorf("expected %d rows, got %d", len(rows), len(decoded))
		}
		if _, ok := decoded[1]["Artwork"]; ok {
			t.Error("artwork bytes should not be serialized")
		}

		empty, _ := ExportToJSON(nil)
		if strings.TrimSpace(string(empty)) != "[]" {
			t.Errorf("expected empty array, got %s", empty)
		}
	})
}

func TestRender(t *testing.T) {
	rows := listing(t)

	tests := []struct {
		format string
		prefix string
	}{
		{"", "0 "},
		{"text", "0 "},
		{"MD", "# Shelf"},
		{"csv", "Path,"},
		{"json", "["},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			data, err := Render(tt.format, "Shelf", rows)
			if err != nil {
				t.Fatalf("Render(%q) error = %v", tt.format, err)
			}
			if !strings.HasPrefix(string(data), tt.prefix) {
				t.Errorf("Render(%q) = %q, want prefix %q", tt.format, string(data)[:min(len(data), 20)], tt.prefix)
			}
		})
	}

	if _, err := Render("yaml", "", rows); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWriteMarkdownExport(t *testing.T) {
	rows := listing(t)
	dir := filepath.Join(t.TempDir(), "export")

	result, err := WriteMarkdownExport("Shelf", rows, dir)
	if err != nil {
		t.Fatalf("WriteMarkdownExport() error = %v", err)
	}

	if result.Covers != 1 {
		t.Errorf("expected 1 cover, got %d", result.Covers)
	}
	th.AssertFileExists(t, filepath.Join(dir, "covers", "pl.png"))

	readme := th.MustReadFile(t, filepath.Join(dir, "README.md"))
	if !strings.Contains(readme, "![cover](covers/pl.png)") {
		t.Errorf("README should link the cover, got:\n%s", readme)
	}

	if _, err := WriteMarkdownExport("Shelf", rows, ""); !errors.Is(err, shared.ErrMissingArgument) {
		t.Errorf("expected ErrMissingArgument, got %v", err)
	}
}

func TestWriteExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "listing.csv")

	if err := WriteExport(path, []byte("data")); err != nil {
		t.Fatalf("WriteExport() error = %v", err)
	}
	if got := th.MustReadFile(t, path); got != "data" {
		t.Errorf("unexpected contents %q", got)
	}
}
