// Package jobs owns the lifecycle of effect generation jobs independently of any screen. Each
// job runs in its own background task; terminal records are mirrored to a JSON index under the
// private data directory so finished and failed jobs stay visible across restarts.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fotobudka/internal/domain"
	"fotobudka/internal/generation"
	"fotobudka/internal/infra"
	"fotobudka/internal/metrics"
	"fotobudka/internal/storage"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("jobs: store closed")
	// ErrBusy is returned by Open while another store holds the data directory.
	ErrBusy = errors.New("jobs: data directory is in use by another store")
)

// Generator is the part of the generation client the tasks drive.
type Generator interface {
	SubmitPhotoEffect(ctx context.Context, templateID int, photo generation.Media) (generation.Submission, error)
	SubmitVideoEffect(ctx context.Context, templateID int, photo generation.Media) (generation.Submission, error)
	Await(ctx context.Context, sub generation.Submission) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
	DownloadToFile(ctx context.Context, ref, pattern string) (string, error)
}

// BalanceRefresher reloads the token balance after a paid action completes.
type BalanceRefresher interface {
	Refresh(ctx context.Context) error
}

// EffectInput is what a caller submits for one effect job.
type EffectInput struct {
	TemplateID int
	Photo      []byte
}

// Options configures a Store.
type Options struct {
	Files     *storage.FileStore
	Generator Generator
	Balance   BalanceRefresher
	Metrics   *metrics.Metrics
	Logger    *infra.Logger
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Store is the job registry. All registry mutations happen under mu.
type Store struct {
	files   *storage.FileStore
	lock    *storage.FileLock
	gen     Generator
	balance BalanceRefresher
	metrics *metrics.Metrics
	logger  *infra.Logger
	now     func() time.Time
	newID   func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	records []domain.JobRecord
	tasks   map[string]context.CancelFunc
	subs    map[int]chan []domain.JobRecord
	nextSub int
}

// Open locks the data directory, loads the persisted index and returns a ready store. The
// lock is held until Close, so only one store, in this process or another, owns the index and
// the input snapshots at a time. A held lock yields ErrBusy.
func Open(opts Options) (*Store, error) {
	if opts.Files == nil {
		return nil, errors.New("jobs: file store is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("jobs: generator is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	lock, err := opts.Files.Lock(lockKey)
	if errors.Is(err, storage.ErrLocked) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, opts.Files.BasePath())
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: lock data directory: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		files:   opts.Files,
		lock:    lock,
		gen:     opts.Generator,
		balance: opts.Balance,
		metrics: opts.Metrics,
		logger:  infra.OrDiscard(opts.Logger),
		now:     now,
		newID:   newID,
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]context.CancelFunc),
		subs:    make(map[int]chan []domain.JobRecord),
	}
	records, err := s.loadIndex()
	if err != nil {
		cancel()
		_ = lock.Unlock()
		return nil, err
	}
	s.records = records
	s.pruneOrphanInputs()
	s.logger.Debug().Int("records", len(records)).Msg("jobs: index loaded")
	return s, nil
}

// StartJob snapshots the input, registers a processing record at the head of the list and
// spawns its background task. It returns without waiting on the network.
func (s *Store) StartJob(input EffectInput, kind domain.JobKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("jobs: unknown kind %q", kind)
	}
	if input.TemplateID <= 0 {
		return "", fmt.Errorf("jobs: invalid template id %d", input.TemplateID)
	}
	if len(input.Photo) == 0 {
		return "", errors.New("jobs: photo is required")
	}
	if s.isClosed() {
		return "", ErrClosed
	}

	id := s.newID()
	key, err := s.files.Write(s.ctx, inputKey(id), input.Photo)
	if err != nil {
		return "", fmt.Errorf("jobs: snapshot input: %w", err)
	}
	rec := domain.JobRecord{
		ID:              id,
		Kind:            kind,
		TemplateID:      input.TemplateID,
		Status:          domain.JobStatusProcessing,
		InputSourcePath: domain.StringPtr(key),
		CreatedAt:       s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = s.files.Remove(key)
		return "", ErrClosed
	}
	s.records = append([]domain.JobRecord{rec}, s.records...)
	s.spawnLocked(rec, input.Photo)
	s.publishLocked()
	s.logger.Info().Str("job_id", id).Str("kind", string(kind)).Int("template_id", input.TemplateID).Msg("jobs: started")
	return id, nil
}

// RetryJob restarts a failed job from its saved input. It reports whether a task was started;
// anything other than an idle error record with its input still on disk is a no-op.
func (s *Store) RetryJob(id string) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if s.closed || idx < 0 || !s.records[idx].CanRetry() || s.tasks[id] != nil {
		s.mu.Unlock()
		return false
	}
	key := *s.records[idx].InputSourcePath
	s.mu.Unlock()

	photo, err := s.files.Read(key)
	if err != nil || len(photo) == 0 {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("jobs: retry skipped, input snapshot unavailable")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx = s.indexLocked(id)
	if s.closed || idx < 0 || !s.records[idx].CanRetry() || s.tasks[id] != nil {
		return false
	}
	rec := &s.records[idx]
	rec.Status = domain.JobStatusProcessing
	rec.ErrorMessage = nil
	rec.RemoteJobID = nil
	s.spawnLocked(*rec, photo)
	s.persistLocked()
	s.publishLocked()
	s.logger.Info().Str("job_id", id).Msg("jobs: retry started")
	return true
}

// GetJob returns a copy of the record with the given id.
func (s *Store) GetJob(id string) (domain.JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.JobRecord{}, false
	}
	return s.records[idx].Clone(), true
}

// Jobs returns every record, newest first.
func (s *Store) Jobs() []domain.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// RemoveJob deletes the record and every backing file. An in-flight task for the job is
// cancelled and its output discarded.
func (s *Store) RemoveJob(id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	rec := s.records[idx]
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	if cancel := s.tasks[id]; cancel != nil {
		cancel()
	}
	s.persistLocked()
	s.publishLocked()
	s.mu.Unlock()

	var errs []error
	for _, key := range recordKeys(rec) {
		if err := s.files.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info().Str("job_id", id).Msg("jobs: removed")
	return errors.Join(errs...)
}

// Subscribe returns a channel that receives the full ordered record list now and after every
// mutation. A slow reader only sees the latest list. The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan []domain.JobRecord, func()) {
	ch := make(chan []domain.JobRecord, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Wait blocks until every running task has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close cancels running tasks, waits for them, closes subscriber channels and releases the
// data directory. Cancelled jobs keep their in-memory state and, being unpersisted, disappear on
// the next Open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("jobs: release data directory: %w", err)
	}
	return nil
}

// FilterKind keeps the records of one kind, preserving order.
func FilterKind(records []domain.JobRecord, kind domain.JobKind) []domain.JobRecord {
	out := make([]domain.JobRecord, 0, len(records))
	for _, rec := range records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) indexLocked(id string) int {
	id = strings.TrimSpace(id)
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []domain.JobRecord {
	out := make([]domain.JobRecord, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

func (s *Store) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.snapshotLocked()
	}
}

func recordKeys(rec domain.JobRecord) []string {
	keys := []string{resultImageKey(rec.ID), resultVideoKey(rec.ID), inputKey(rec.ID)}
	for _, p := range []*string{rec.ResultImagePath, rec.ResultVideoPath, rec.InputSourcePath} {
		if p != nil && *p != "" {
			keys = append(keys, *p)
		}
	}
	return keys
}
