//go:build !unix && !windows

package storage

import "os"

// Platforms without advisory locks get a no-op lock.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
