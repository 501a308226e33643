package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteArchive(t *testing.T) {
	dir := t.TempDir()
	photo := filepath.Join(dir, "a.jpg")
	video := filepath.Join(dir, "b.mp4")
	require.NoError(t, os.WriteFile(photo, []byte("jpeg"), 0o600))
	require.NoError(t, os.WriteFile(video, []byte("mp4"), 0o600))

	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, []Entry{{Name: "photo-1.jpg", Path: photo}, {Path: video}}))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "photo-1.jpg", zr.File[0].Name)
	assert.Equal(t, "b.mp4", zr.File[1].Name)
	assert.Equal(t, zip.Store, zr.File[0].Method)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "mp4", string(data))
}

func TestWriteArchiveMissingFile(t *testing.T) {
	var buf bytes.Buffer
	err := WriteArchive(&buf, []Entry{{Name: "gone.jpg", Path: filepath.Join(t.TempDir(), "gone.jpg")}})
	assert.ErrorContains(t, err, "gone.jpg")
}
