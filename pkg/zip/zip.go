// Package zip bundles generated results into a single archive for sharing.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Entry is one file on disk and the name it takes inside the archive.
type Entry struct {
	Name     string
	Path     string
	Modified time.Time
}

// WriteArchive streams entries into w. Media is already compressed, so entries are stored.
func WriteArchive(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, e Entry) error {
	name := e.Name
	if name == "" {
		name = filepath.Base(e.Path)
	}
	f, err := os.Open(e.Path)
	if err != nil {
		return fmt.Errorf("zip: open %s: %w", name, err)
	}
	defer f.Close()

	hdr := &zip.FileHeader{Name: name, Method: zip.Store, Modified: e.Modified}
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip: add %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("zip: write %s: %w", name, err)
	}
	return nil
}
