package download

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/shared"
)

// cacheDirTag marks the cache root so backup tools skip it (https://bford.info/cachedir/).
const cacheDirTag = "Signature: 8a477f597d28d172789f06886806bc55\n" +
	"# This file is a cache directory tag created by shelf.\n" +
	"# For information about cache directory tags see https://bford.info/cachedir/\n"

// FileManager owns the on-disk layout of the cache.
//
// Files live at <root>/<kind>/<sanitized id>. Transfers in progress live under
// <root>/.partial so a crash never leaves a half-written file at a final path.
type FileManager struct {
	root string
}

// NewFileManager creates a manager rooted at root.
func NewFileManager(root string) *FileManager {
	return &FileManager{root: root}
}

// Root returns the cache root.
func (m *FileManager) Root() string { return m.root }

// RelativePath returns the deterministic cache location of a playable, relative to the root.
func (m *FileManager) RelativePath(e *models.Entity) string {
	return filepath.Join(e.Kind().String(), shared.SanitizeID(e.ID()))
}

// AbsPath resolves a relative cache path.
func (m *FileManager) AbsPath(rel string) string {
	return filepath.Join(m.root, rel)
}

// PartialPath returns where a playable's transfer is written until it is committed.
func (m *FileManager) PartialPath(e *models.Entity) string {
	return filepath.Join(m.root, ".partial", e.Kind().String()+"_"+shared.SanitizeID(e.ID())+".partial")
}

// EnsureRoot creates the root and its CACHEDIR.TAG.
func (m *FileManager) EnsureRoot() error {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return fmt.Errorf("failed to create cache root: %w", err)
	}

	tag := filepath.Join(m.root, "CACHEDIR.TAG")
	if _, err := os.Stat(tag); err == nil {
		return nil
	}
	if err := os.WriteFile(tag, []byte(cacheDirTag), 0644); err != nil {
		return fmt.Errorf("failed to write CACHEDIR.TAG: %w", err)
	}
	return nil
}

// Move places src at rel, replacing any previous file.
func (m *FileManager) Move(src, rel string) error {
	if rel == "" || filepath.IsAbs(rel) {
		return fmt.Errorf("invalid cache path %q", rel)
	}
	dst := m.AbsPath(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move payload: %w", err)
	}
	return nil
}

// Exists reports whether a non-empty file is stored at rel.
func (m *FileManager) Exists(rel string) bool {
	if rel == "" {
		return false
	}
	info, err := os.Stat(m.AbsPath(rel))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Remove deletes the file at path. A missing file is not an error.
func (m *FileManager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
