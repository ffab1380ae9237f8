// Package session holds the durable record of a successful authentication.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// sessionFileName is the name of the file storing the session record.
const sessionFileName = "session.json"

// ErrNotFound is returned when no persisted session exists.
var ErrNotFound = errors.New("session not found")

// Identity is the service-assigned identity bound to a session.
type Identity struct {
	ID    string `json:"id"`    // service-assigned id, e.g. "40712345678@s"
	Name  string `json:"name"`  // display name
	Phone string `json:"phone"` // phone identifier
}

// Session is the restorable record of a successful handshake. It is opaque
// to external storage; callers persist and restore it as a unit.
type Session struct {
	ClientID    string   `json:"clientId"`
	ServerToken string   `json:"serverToken"`
	ClientToken string   `json:"clientToken"`
	KeyMaterial []byte   `json:"keyMaterial"`
	Identity    Identity `json:"identity"`

	CreatedAt time.Time `json:"createdAt"`
}

// Valid reports whether the record carries enough state to resume.
func (s *Session) Valid() bool {
	return s != nil && s.ClientID != "" && s.ServerToken != "" && s.ClientToken != ""
}

// Save persists the session to the data directory. The write is atomic:
// a temp file is written first and renamed into place.
func (s *Session) Save(dataDir string) error {
	if !s.Valid() {
		return errors.New("cannot store incomplete session")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	filePath := filepath.Join(dataDir, sessionFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Load reads a persisted session from the data directory.
func Load(dataDir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, sessionFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !s.Valid() {
		return nil, fmt.Errorf("decode session: incomplete record")
	}
	return &s, nil
}

// Delete removes a persisted session. Removing a session that does not
// exist is not an error.
func Delete(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, sessionFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Exists checks whether a persisted session is present.
func Exists(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, sessionFileName))
	return err == nil
}
