// Package store persists the two pieces of session state that outlive a
// conversation: the latest session resumption handle and the append-only
// audit log of raw server messages.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default file names, resolved against the working directory at startup.
const (
	DefaultAuditLogFile   = "LiveAudioConversationResponse.json"
	DefaultResumptionFile = "LiveAudioConversationResumptionHandle.txt"
)

// ResumptionFile keeps the most recent resumption handle. Every Save
// replaces the previous content, so the file always holds the latest handle.
type ResumptionFile struct {
	mu   sync.Mutex
	path string
	last string
}

// NewResumptionFile returns a store writing to path.
func NewResumptionFile(path string) *ResumptionFile {
	return &ResumptionFile{path: path}
}

// Path returns the file location.
func (r *ResumptionFile) Path() string { return r.path }

// Save overwrites the file with handle. The write goes through a temporary
// file in the same directory and a rename, so readers never see a partial
// handle.
func (r *ResumptionFile) Save(handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(handle); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write resumption handle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: replace resumption file: %w", err)
	}
	r.last = handle
	return nil
}

// Load returns the stored handle, or "" when the file does not exist.
func (r *ResumptionFile) Load() (string, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: read resumption file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Last returns the handle most recently saved through this value.
func (r *ResumptionFile) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// AuditLog appends raw server messages to a file, each followed by a blank
// line. The file is opened lazily on first append.
type AuditLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewAuditLog returns a log appending to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Path returns the file location.
func (a *AuditLog) Path() string { return a.path }

// Append writes raw followed by "\n\n". Empty records are ignored.
func (a *AuditLog) Append(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.f == nil {
		f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("store: open audit log: %w", err)
		}
		a.f = f
	}

	buf := make([]byte, 0, len(raw)+2)
	buf = append(buf, raw...)
	buf = append(buf, '\n', '\n')
	if _, err := a.f.Write(buf); err != nil {
		return fmt.Errorf("store: append audit log: %w", err)
	}
	return nil
}

// Close releases the file handle. Append after Close reopens the file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	if err != nil {
		return fmt.Errorf("store: close audit log: %w", err)
	}
	return nil
}
