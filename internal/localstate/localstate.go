// Package localstate persists the client-side identity and session pointer
// of one client instance.
package localstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// State is the on-disk document.
type State struct {
	UserID    string `yaml:"user_id"`
	SessionID string `yaml:"session_id,omitempty"`
}

// File stores State as YAML at Path. It implements chathub.PointerStore.
type File struct {
	Path string

	mu sync.Mutex
}

// NewFile returns a store for path. The file is created lazily.
func NewFile(path string) *File {
	return &File{Path: path}
}

// UserID returns the persisted anonymous id, generating and saving one on
// first use.
func (f *File) UserID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.read()
	if err != nil {
		return "", err
	}
	if st.UserID != "" {
		return st.UserID, nil
	}
	st.UserID = uuid.NewString()
	if err := f.write(st); err != nil {
		return "", err
	}
	return st.UserID, nil
}

func (f *File) Load() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.read()
	if err != nil {
		return "", err
	}
	return st.SessionID, nil
}

func (f *File) Save(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.read()
	if err != nil {
		return err
	}
	st.SessionID = sessionID
	return f.write(st)
}

func (f *File) Clear() error {
	return f.Save("")
}

func (f *File) read() (State, error) {
	var st State
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read state %s: %w", f.Path, err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse state %s: %w", f.Path, err)
	}
	return st, nil
}

// write replaces the file atomically so a crash never leaves half a document.
func (f *File) write(st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".blabberbox-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace state %s: %w", f.Path, err)
	}
	return nil
}

// Memory is a process-local pointer store, used when the client carries the
// pointer itself (WebSocket query parameter).
type Memory struct {
	mu        sync.Mutex
	sessionID string
}

// NewMemory returns a store seeded with sessionID, which may be empty.
func NewMemory(sessionID string) *Memory {
	return &Memory{sessionID: sessionID}
}

func (m *Memory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID, nil
}

func (m *Memory) Save(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = sessionID
	return nil
}

func (m *Memory) Clear() error {
	return m.Save("")
}
