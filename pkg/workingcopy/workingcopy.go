// Package workingcopy abstracts the file tree the repository records
// from and outputs to. The record and output engines only ever see
// this interface, so tests run against the in-memory provider and the
// CLI against a real directory.
package workingcopy

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned for paths the working copy does not hold.
var ErrNotFound = errors.New("workingcopy: file not found")

// Provider is a flat view of the working tree. Paths are
// slash-separated and relative; directories are implied by their
// files.
type Provider interface {
	// Read returns the contents of path.
	Read(path string) ([]byte, error)

	// Write stores data at path, creating parents as needed.
	Write(path string, data []byte) error

	// Remove deletes path. Removing an absent path is a no-op.
	Remove(path string) error

	// List returns every file path, sorted.
	List() ([]string, error)
}

// Memory is a Provider backed by a map. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

func (m *Memory) Read(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.files[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *Memory) Write(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := make([]byte, len(data))
	copy(b, data)
	m.files[path] = b
	return nil
}

func (m *Memory) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *Memory) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
