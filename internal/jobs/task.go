package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"time"

	"fotobudka/internal/domain"
	"fotobudka/internal/generation"
)

const jpegQuality = 92

var errDecodeImage = errors.New("jobs: result is not a decodable image")

// taskResult is what a task hands back to the registry.
type taskResult struct {
	resultKey string
	err       error
}

// spawnLocked registers and starts the task for rec. Callers hold s.mu.
func (s *Store) spawnLocked(rec domain.JobRecord, photo []byte) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.tasks[rec.ID] = cancel
	s.wg.Add(1)
	s.metrics.JobStarted(string(rec.Kind))
	go s.runTask(ctx, cancel, rec.ID, rec.Kind, rec.TemplateID, photo)
}

func (s *Store) runTask(ctx context.Context, cancel context.CancelFunc, id string, kind domain.JobKind, templateID int, photo []byte) {
	defer s.wg.Done()
	defer cancel()

	start := time.Now()
	var res taskResult
	switch kind {
	case domain.JobKindVideoEffect:
		res = s.runVideo(ctx, id, templateID, photo)
	default:
		res = s.runPhoto(ctx, id, templateID, photo)
	}
	status := s.finish(id, res)
	s.metrics.JobFinished(string(kind), status, time.Since(start).Seconds())

	if status == string(domain.JobStatusSuccess) && s.balance != nil {
		if err := s.balance.Refresh(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Str("job_id", id).Msg("jobs: balance refresh failed")
		}
	}
}

func (s *Store) runPhoto(ctx context.Context, id string, templateID int, photo []byte) taskResult {
	sub, err := s.gen.SubmitPhotoEffect(ctx, templateID, generation.JPEG(photo))
	if err != nil {
		return taskResult{err: err}
	}
	s.setRemoteID(id, sub.ID)
	ref, err := s.gen.Await(ctx, sub)
	if err != nil {
		return taskResult{err: err}
	}
	data, err := s.gen.Download(ctx, ref)
	if err != nil {
		return taskResult{err: err}
	}
	encoded, err := reencodeJPEG(data)
	if err != nil {
		return taskResult{err: err}
	}
	key, err := s.files.Write(ctx, resultImageKey(id), encoded)
	if err != nil {
		return taskResult{err: fmt.Errorf("jobs: save result: %w", err)}
	}
	return taskResult{resultKey: key}
}

func (s *Store) runVideo(ctx context.Context, id string, templateID int, photo []byte) taskResult {
	sub, err := s.gen.SubmitVideoEffect(ctx, templateID, generation.JPEG(photo))
	if err != nil {
		return taskResult{err: err}
	}
	s.setRemoteID(id, sub.ID)
	ref, err := s.gen.Await(ctx, sub)
	if err != nil {
		return taskResult{err: err}
	}
	tmp, err := s.gen.DownloadToFile(ctx, ref, "effect-*.mp4")
	if err != nil {
		return taskResult{err: err}
	}
	defer os.Remove(tmp)
	key, err := s.files.CopyFile(ctx, tmp, resultVideoKey(id))
	if err != nil {
		return taskResult{err: fmt.Errorf("jobs: save result: %w", err)}
	}
	return taskResult{resultKey: key}
}

// reencodeJPEG decodes png or jpeg bytes and stores them uniformly as JPEG.
func reencodeJPEG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errDecodeImage, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("jobs: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Store) setRemoteID(id, remoteID string) {
	if remoteID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		s.records[idx].RemoteJobID = domain.StringPtr(remoteID)
		s.publishLocked()
	}
}

// finish applies a task outcome to the registry and returns the metrics status label.
// Cancellation leaves the record untouched.
func (s *Store) finish(id string, res taskResult) string {
	s.mu.Lock()
	delete(s.tasks, id)
	idx := s.indexLocked(id)

	if idx < 0 {
		s.mu.Unlock()
		// Removed while running: drop whatever the task produced.
		if res.resultKey != "" {
			_ = s.files.Remove(res.resultKey)
		}
		return "abandoned"
	}
	if res.err != nil && isCancellation(res.err) {
		s.mu.Unlock()
		if res.resultKey != "" {
			_ = s.files.Remove(res.resultKey)
		}
		s.logger.Info().Str("job_id", id).Msg("jobs: task abandoned")
		return "abandoned"
	}

	rec := &s.records[idx]
	var inputToFree string
	if res.err != nil {
		rec.Status = domain.JobStatusError
		rec.ErrorMessage = domain.StringPtr(userMessage(res.err))
		s.logger.Error().Err(res.err).Str("job_id", id).Msg("jobs: job failed")
	} else {
		rec.Status = domain.JobStatusSuccess
		rec.ErrorMessage = nil
		if rec.Kind.IsVideo() {
			rec.ResultVideoPath = domain.StringPtr(res.resultKey)
		} else {
			rec.ResultImagePath = domain.StringPtr(res.resultKey)
		}
		if rec.InputSourcePath != nil {
			inputToFree = *rec.InputSourcePath
		}
		rec.InputSourcePath = nil
		s.logger.Info().Str("job_id", id).Str("result", res.resultKey).Msg("jobs: job succeeded")
	}
	status := string(rec.Status)
	s.persistLocked()
	s.publishLocked()
	s.mu.Unlock()

	if inputToFree != "" {
		if err := s.files.Remove(inputToFree); err != nil {
			s.logger.Warn().Err(err).Str("job_id", id).Msg("jobs: free input snapshot failed")
		}
	}
	return status
}

func isCancellation(err error) bool {
	return domain.IsCancelled(err) || errors.Is(err, context.Canceled)
}
