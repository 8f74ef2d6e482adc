// Package checkpoint implements the translation checkpoint file — a
// YAML sidecar that records the translated text of every completed
// section keyed by its index and an MD5 checksum of the source text.
// An interrupted run resumes from the checkpoint instead of re-sending
// already translated chunks, saving tokens and time.
//
// The checkpoint is stored next to the output file as
// <output>.checkpoint and removed once the translation completes.
package checkpoint

import (
	"crypto/md5"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Suffix is appended to the output path to form the checkpoint path.
const Suffix = ".checkpoint"

// Version is the checkpoint file format version.
const Version = 1

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Entry holds one completed section.
type Entry struct {
	// Checksum is the MD5 hex digest of the section's source text.
	Checksum string `yaml:"checksum"`
	// Text is the translated section text.
	Text string `yaml:"text"`
}

// File represents a checkpoint file.
type File struct {
	Version  int           `yaml:"version"`
	Model    string        `yaml:"model"`
	Sections map[int]Entry `yaml:"sections"`

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// PathFor returns the checkpoint path for an output file.
func PathFor(outputPath string) string {
	return outputPath + Suffix
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads a checkpoint file. Returns an empty checkpoint if the file
// doesn't exist. Entries recorded for a different model are discarded:
// resuming must not mix output from two models.
func Load(path, model string) (*File, error) {
	f := &File{
		Version:  Version,
		Model:    model,
		Sections: make(map[int]Entry),
		path:     path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	f.path = path

	if f.Sections == nil {
		f.Sections = make(map[int]Entry)
	}
	if f.Model != model {
		f.Model = model
		f.Sections = make(map[int]Entry)
	}

	return f, nil
}

// Save writes the checkpoint to disk.
func (f *File) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.path == "" {
		return fmt.Errorf("checkpoint path not set")
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	return nil
}

// Remove deletes the checkpoint file. Missing files are not an error.
func (f *File) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.path == "" {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", f.path, err)
	}
	return nil
}

// Path returns the checkpoint file path.
func (f *File) Path() string {
	return f.path
}

// ---------------------------------------------------------------------------
// Section operations
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of a source text.
func Hash(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// Get returns the stored translation for a section, if its source
// checksum still matches.
func (f *File) Get(index int, checksum string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.Sections[index]
	if !ok || e.Checksum != checksum {
		return "", false
	}
	return e.Text, true
}

// Set records the translation for a section.
func (f *File) Set(index int, checksum, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Sections[index] = Entry{Checksum: checksum, Text: text}
}

// Len returns the number of completed sections.
func (f *File) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sections)
}
