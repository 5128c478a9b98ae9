// Package cache stores per-stem pipeline artifacts and decides which stages
// must be recomputed.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Stage identifies one persisted pipeline step. Stages are ordered: every
// stage depends on all stages before it.
type Stage int

const (
	Onsets Stage = iota
	Windows
	Hits
	MIDI
)

// Stages lists all stages in dependency order
var Stages = []Stage{Onsets, Windows, Hits, MIDI}

func (s Stage) String() string {
	switch s {
	case Onsets:
		return "onsets"
	case Windows:
		return "windows"
	case Hits:
		return "hits"
	case MIDI:
		return "midi"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Artifact file suffixes, appended to the stem path with its extension removed
var suffixes = map[Stage]string{
	Onsets:  ".onsets.json",
	Windows: ".mel_windows.npz",
	Hits:    ".hits.json",
	MIDI:    ".drums.mid",
}

// Artifacts holds the artifact paths derived from one stem
type Artifacts struct {
	Onsets  string
	Windows string
	Hits    string
	MIDI    string
}

// ArtifactsFor derives artifact paths by replacing the stem's extension
func ArtifactsFor(stemPath string) Artifacts {
	base := strings.TrimSuffix(stemPath, filepath.Ext(stemPath))
	return Artifacts{
		Onsets:  base + suffixes[Onsets],
		Windows: base + suffixes[Windows],
		Hits:    base + suffixes[Hits],
		MIDI:    base + suffixes[MIDI],
	}
}

// Path returns the artifact path of a stage
func (a Artifacts) Path(s Stage) string {
	switch s {
	case Onsets:
		return a.Onsets
	case Windows:
		return a.Windows
	case Hits:
		return a.Hits
	case MIDI:
		return a.MIDI
	default:
		return ""
	}
}

// ErrNotCached is returned by Get for a stage with no stored artifact
var ErrNotCached = errors.New("artifact not cached")

// Store persists stage artifacts for a single stem
type Store interface {
	Exists(s Stage) bool
	Get(s Stage) ([]byte, error)
	Put(s Stage, data []byte) error
	Invalidate(s Stage) error
	Path(s Stage) string
}

// FileStore keeps artifacts next to the stem on disk
type FileStore struct {
	artifacts Artifacts
}

// NewFileStore creates a store for the artifacts of stemPath
func NewFileStore(stemPath string) *FileStore {
	return &FileStore{artifacts: ArtifactsFor(stemPath)}
}

// Path returns the artifact path of a stage
func (f *FileStore) Path(s Stage) string {
	return f.artifacts.Path(s)
}

// Exists reports whether the stage artifact is present
func (f *FileStore) Exists(s Stage) bool {
	info, err := os.Stat(f.Path(s))
	return err == nil && info.Mode().IsRegular()
}

// Get reads the stage artifact
func (f *FileStore) Get(s Stage) ([]byte, error) {
	data, err := os.ReadFile(f.Path(s))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", s, ErrNotCached)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s artifact: %w", s, err)
	}
	return data, nil
}

// Put writes the stage artifact through a temporary file in the same
// directory, so readers see either the old or the new content.
func (f *FileStore) Put(s Stage, data []byte) error {
	path := f.Path(s)
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", s, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s artifact: %w", s, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s artifact: %w", s, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s artifact: %w", s, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move %s artifact into place: %w", s, err)
	}
	return nil
}

// Invalidate removes the stage artifact; a missing artifact is not an error
func (f *FileStore) Invalidate(s Stage) error {
	if err := os.Remove(f.Path(s)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to invalidate %s: %w", s, err)
	}
	return nil
}

// InvalidateFrom removes the artifact of from and of every later stage
func InvalidateFrom(store Store, from Stage) error {
	var errs []error
	for _, s := range Stages {
		if s < from {
			continue
		}
		if err := store.Invalidate(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
