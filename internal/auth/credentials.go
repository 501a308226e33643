package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"fotobudka/internal/domain"
)

// CredentialStore persists session credentials between launches.
type CredentialStore interface {
	Load() (domain.SessionCredentials, error)
	Save(creds domain.SessionCredentials) error
}

// FileCredentialStore keeps credentials in a JSON file readable only by the owner.
type FileCredentialStore struct {
	path string
}

// NewFileCredentialStore stores credentials at path.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

// Load returns empty credentials when nothing was saved yet.
func (s *FileCredentialStore) Load() (domain.SessionCredentials, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.SessionCredentials{}, nil
	}
	if err != nil {
		return domain.SessionCredentials{}, fmt.Errorf("auth: read credentials: %w", err)
	}
	var creds domain.SessionCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return domain.SessionCredentials{}, fmt.Errorf("auth: decode credentials: %w", err)
	}
	return creds, nil
}

func (s *FileCredentialStore) Save(creds domain.SessionCredentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("auth: encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("auth: ensure credentials dir: %w", err)
	}
	// CreateTemp opens the file with mode 0600.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("auth: create temp credentials: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("auth: write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("auth: close credentials: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("auth: save credentials: %w", err)
	}
	return nil
}
