package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrLocked is returned when another holder, usually another process, owns the lock.
var ErrLocked = errors.New("storage: already locked")

// FileLock is an exclusive advisory lock on one file under the store. It is held until
// Unlock and released by the OS if the process dies.
type FileLock struct {
	once sync.Once
	f    *os.File
	path string
}

// Lock takes the exclusive lock on key without blocking. A held lock yields ErrLocked. Each
// call opens its own handle, so two locks on one key conflict inside a single process too.
func (s *FileStore) Lock(key string) (*FileLock, error) {
	fullPath, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}
	f, err := os.OpenFile(fullPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return &FileLock{f: f, path: fullPath}, nil
}

// Path returns the absolute path of the lock file.
func (l *FileLock) Path() string { return l.path }

// Unlock releases the lock. Calling it more than once is safe.
func (l *FileLock) Unlock() error {
	var err error
	l.once.Do(func() {
		err = errors.Join(unlockFile(l.f), l.f.Close())
	})
	return err
}
