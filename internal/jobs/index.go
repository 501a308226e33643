package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"fotobudka/internal/domain"
)

const (
	indexKey = "effect_jobs.json"
	lockKey  = "effect_jobs.lock"
	assetDir = "effects"
)

func resultImageKey(id string) string { return assetDir + "/" + id + ".jpg" }
func resultVideoKey(id string) string { return assetDir + "/" + id + ".mp4" }
func inputKey(id string) string       { return assetDir + "/input_" + id + ".jpg" }

// indexEntry is the on-disk shape of one record. createdAt is epoch milliseconds.
type indexEntry struct {
	ID              string           `json:"id"`
	Kind            domain.JobKind   `json:"kind"`
	IsVideo         bool             `json:"isVideo"`
	Status          domain.JobStatus `json:"status"`
	TemplateID      int              `json:"templateId,omitempty"`
	ResultImagePath *string          `json:"resultImagePath,omitempty"`
	ResultVideoPath *string          `json:"resultVideoPath,omitempty"`
	InputSourcePath *string          `json:"inputSourcePath,omitempty"`
	ErrorMessage    *string          `json:"errorMessage,omitempty"`
	CreatedAt       int64            `json:"createdAt"`
	RemoteJobID     *string          `json:"remoteJobId,omitempty"`
}

func entryFromRecord(r domain.JobRecord) indexEntry {
	return indexEntry{
		ID:              r.ID,
		Kind:            r.Kind,
		IsVideo:         r.Kind.IsVideo(),
		Status:          r.Status,
		TemplateID:      r.TemplateID,
		ResultImagePath: r.ResultImagePath,
		ResultVideoPath: r.ResultVideoPath,
		InputSourcePath: r.InputSourcePath,
		ErrorMessage:    r.ErrorMessage,
		CreatedAt:       r.CreatedAt.UnixMilli(),
		RemoteJobID:     r.RemoteJobID,
	}
}

func (e indexEntry) record() domain.JobRecord {
	kind := e.Kind
	if kind == "" {
		kind = domain.JobKindPhotoEffect
		if e.IsVideo {
			kind = domain.JobKindVideoEffect
		}
	}
	return domain.JobRecord{
		ID:              e.ID,
		RemoteJobID:     e.RemoteJobID,
		Kind:            kind,
		TemplateID:      e.TemplateID,
		Status:          e.Status,
		ResultImagePath: e.ResultImagePath,
		ResultVideoPath: e.ResultVideoPath,
		InputSourcePath: e.InputSourcePath,
		ErrorMessage:    e.ErrorMessage,
		CreatedAt:       time.UnixMilli(e.CreatedAt).UTC(),
	}
}

// loadIndex reads the persisted records, newest first. A missing index is an empty store.
func (s *Store) loadIndex() ([]domain.JobRecord, error) {
	raw, err := s.files.Read(indexKey)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: read index: %w", err)
	}
	var entries []indexEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("jobs: decode index: %w", err)
	}

	records := make([]domain.JobRecord, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		rec := entry.record()
		if !rec.Status.Terminal() {
			continue
		}
		if err := rec.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("job_id", rec.ID).Msg("jobs: skipping invalid index entry")
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
	}
	sortNewestFirst(records)
	return records, nil
}

// persistLocked writes every terminal record to the index. Callers hold s.mu. The directory
// lock makes this store the only writer, so the in-memory list is authoritative.
func (s *Store) persistLocked() {
	entries := make([]indexEntry, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Status.Terminal() {
			entries = append(entries, entryFromRecord(rec))
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("jobs: encode index failed")
		return
	}
	if _, err := s.files.Write(context.Background(), indexKey, data); err != nil {
		s.logger.Error().Err(err).Msg("jobs: write index failed")
	}
}

// pruneOrphanInputs removes input snapshots left behind by jobs that were still processing when
// the previous owner stopped. Their records were never persisted, so nothing can retry them. Open
// holds the directory lock, so no live task can own an unreferenced input.
func (s *Store) pruneOrphanInputs() {
	dir, err := s.files.Path(assetDir)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	referenced := make(map[string]struct{}, len(s.records))
	for _, rec := range s.records {
		if rec.InputSourcePath != nil {
			referenced[*rec.InputSourcePath] = struct{}{}
		}
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "input_") {
			continue
		}
		key := assetDir + "/" + name
		if _, ok := referenced[key]; ok {
			continue
		}
		if err := s.files.Remove(key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("jobs: remove orphan input failed")
		}
	}
}

func sortNewestFirst(records []domain.JobRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
