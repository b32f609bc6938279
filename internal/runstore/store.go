package runstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/imamik/shipyard/internal/util/naming"
)

var (
	// ErrNotFound is returned for missing objects and runs.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned by Backend.Create when the key is taken.
	ErrExists = errors.New("already exists")

	// ErrLockLost is returned by Heartbeat when another run took the lock over.
	ErrLockLost = errors.New("pipeline lock lost")
)

// DefaultStaleLockAge is how long a lock is honoured after its holder last
// reported through Heartbeat.
const DefaultStaleLockAge = time.Minute

// Backend stores small objects by slash-separated key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Create stores data only if key does not exist yet.
	Create(ctx context.Context, key string, data []byte) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// LockedError reports the run holding a pipeline's lock.
type LockedError struct {
	PipelineID string
	Holder     string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("pipeline %s is locked by run %s", e.PipelineID, e.Holder)
}

// lock is the content of a pipeline lock object.
type lock struct {
	RunID    string    `json:"runId"`
	Host     string    `json:"host,omitempty"`
	PID      int       `json:"pid,omitempty"`
	Acquired time.Time `json:"acquired"`

	// Heartbeat is refreshed by the holder while its run is in progress.
	Heartbeat time.Time `json:"heartbeat,omitempty"`
}

func (l *lock) lastSeen() time.Time {
	if l.Heartbeat.After(l.Acquired) {
		return l.Heartbeat
	}
	return l.Acquired
}

func (l *lock) holder() string {
	if l.Host == "" {
		return fmt.Sprintf("pid %d", l.PID)
	}
	return fmt.Sprintf("%s/%d", l.Host, l.PID)
}

// Store persists runs in a Backend.
type Store struct {
	backend      Backend
	staleLockAge time.Duration
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithStaleLockAge sets how long a lock without a heartbeat is honoured.
func WithStaleLockAge(d time.Duration) Option {
	return func(s *Store) {
		s.staleLockAge = d
	}
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:      backend,
		staleLockAge: DefaultStaleLockAge,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes the record, replacing any previous version.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", rec.RunID, err)
	}
	if err := s.backend.Put(ctx, naming.RunObject(rec.RunID), data); err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.RunID, err)
	}
	return nil
}

// Load reads one run. Missing runs yield ErrNotFound.
func (s *Store) Load(ctx context.Context, runID string) (*Record, error) {
	data, err := s.backend.Get(ctx, naming.RunObject(runID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &rec, nil
}

// List returns the runs of a pipeline, newest first. An empty pipelineID
// lists every run.
func (s *Store) List(ctx context.Context, pipelineID string) ([]*Record, error) {
	keys, err := s.backend.List(ctx, "runs/")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var out []*Record
	for _, key := range keys {
		id, ok := strings.CutSuffix(strings.TrimPrefix(key, "runs/"), ".yaml")
		if !ok {
			continue
		}
		rec, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if pipelineID == "" || rec.PipelineID == pipelineID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out, nil
}

// Acquire takes the pipeline's single-flight lock for runID. A lock held by
// another run yields a *LockedError, unless that run has finished or its
// holder stopped sending heartbeats for longer than the stale lock age. Such
// a lock is taken over, and a run left unfinished by a vanished holder is
// recorded as cancelled.
func (s *Store) Acquire(ctx context.Context, pipelineID, runID string) error {
	key := naming.PipelineLock(pipelineID)
	host, _ := os.Hostname()
	data, err := yaml.Marshal(lock{RunID: runID, Host: host, PID: os.Getpid(), Acquired: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode lock: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := s.backend.Create(ctx, key, data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrExists) {
			return fmt.Errorf("failed to lock pipeline %s: %w", pipelineID, err)
		}

		held, raw, err := s.readLock(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if held.RunID == runID {
			return nil
		}
		stale, rec, err := s.stale(ctx, held)
		if err != nil {
			return err
		}
		if !stale {
			return &LockedError{PipelineID: pipelineID, Holder: held.RunID}
		}
		if rec != nil && !rec.Status.Terminal() {
			if err := s.abandon(ctx, rec, held); err != nil {
				return err
			}
		}
		if err := s.deleteIfUnchanged(ctx, key, raw); err != nil {
			return err
		}
	}
	return &LockedError{PipelineID: pipelineID, Holder: "unknown"}
}

// Release drops the pipeline lock if runID holds it.
func (s *Store) Release(ctx context.Context, pipelineID, runID string) error {
	key := naming.PipelineLock(pipelineID)
	held, _, err := s.readLock(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if held.RunID != runID {
		return nil
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to unlock pipeline %s: %w", pipelineID, err)
	}
	return nil
}

// Heartbeat marks runID's hold on the pipeline lock as alive. It fails with
// ErrLockLost when the lock is gone or held by another run.
func (s *Store) Heartbeat(ctx context.Context, pipelineID, runID string) error {
	key := naming.PipelineLock(pipelineID)
	held, _, err := s.readLock(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("pipeline %s: %w", pipelineID, ErrLockLost)
	}
	if err != nil {
		return err
	}
	if held.RunID != runID {
		return fmt.Errorf("pipeline %s: %w to run %s", pipelineID, ErrLockLost, held.RunID)
	}

	held.Heartbeat = s.now().UTC()
	data, err := yaml.Marshal(held)
	if err != nil {
		return fmt.Errorf("failed to encode lock: %w", err)
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to refresh lock of pipeline %s: %w", pipelineID, err)
	}
	return nil
}

// Holder returns the run currently holding the pipeline lock, or "".
func (s *Store) Holder(ctx context.Context, pipelineID string) (string, error) {
	held, _, err := s.readLock(ctx, naming.PipelineLock(pipelineID))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return held.RunID, nil
}

func (s *Store) readLock(ctx context.Context, key string) (*lock, []byte, error) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to read lock %s: %w", key, err)
	}
	var l lock
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return nil, nil, fmt.Errorf("failed to decode lock %s: %w", key, err)
	}
	return &l, raw, nil
}

// stale reports whether held may be taken over, together with the record
// of the holding run when there is one.
func (s *Store) stale(ctx context.Context, held *lock) (bool, *Record, error) {
	silent := s.now().Sub(held.lastSeen()) > s.staleLockAge
	rec, err := s.Load(ctx, held.RunID)
	if errors.Is(err, ErrNotFound) {
		return silent, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return rec.Status.Terminal() || silent, rec, nil
}

// abandon finishes the record of a run whose holder stopped reporting.
// Unfinished stages are skipped and the run is cancelled.
func (s *Store) abandon(ctx context.Context, rec *Record, held *lock) error {
	reason := fmt.Sprintf("run abandoned: holder %s stopped reporting at %s",
		held.holder(), held.lastSeen().Format(time.RFC3339))
	now := s.now().UTC()
	for i := range rec.Stages {
		st := &rec.Stages[i]
		if st.Status.Terminal() {
			continue
		}
		st.Status = StageSkipped
		st.Error = reason
		if !st.Started.IsZero() {
			st.Finished = now
		}
	}
	rec.Status = StatusCancelled
	rec.Finished = now
	if err := s.Save(ctx, rec); err != nil {
		return err
	}
	return s.ClearCancel(ctx, rec.RunID)
}

// deleteIfUnchanged removes key unless another process replaced it since
// it was read as raw.
func (s *Store) deleteIfUnchanged(ctx context.Context, key string, raw []byte) error {
	current, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock %s: %w", key, err)
	}
	if string(current) != string(raw) {
		return nil
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to remove stale lock %s: %w", key, err)
	}
	return nil
}

// RequestCancel persists a cancel request for runID. Unknown runs yield
// ErrNotFound; finished runs are left untouched. A run whose lock holder
// stopped sending heartbeats has nobody left to act on the request, so it is
// recorded as cancelled right away and its lock released.
func (s *Store) RequestCancel(ctx context.Context, runID string) (*Record, error) {
	rec, err := s.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}

	key := naming.PipelineLock(rec.PipelineID)
	held, raw, err := s.readLock(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if held != nil && held.RunID == runID && s.now().Sub(held.lastSeen()) > s.staleLockAge {
		if err := s.abandon(ctx, rec, held); err != nil {
			return nil, err
		}
		if err := s.deleteIfUnchanged(ctx, key, raw); err != nil {
			return nil, err
		}
		return rec, nil
	}

	stamp := []byte(s.now().UTC().Format(time.RFC3339Nano))
	if err := s.backend.Put(ctx, naming.CancelMarker(runID), stamp); err != nil {
		return nil, fmt.Errorf("failed to request cancel of run %s: %w", runID, err)
	}
	return rec, nil
}

// CancelRequested reports whether a cancel request exists for runID.
func (s *Store) CancelRequested(ctx context.Context, runID string) (bool, error) {
	_, err := s.backend.Get(ctx, naming.CancelMarker(runID))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel marker of run %s: %w", runID, err)
	}
	return true, nil
}

// ClearCancel removes a cancel request.
func (s *Store) ClearCancel(ctx context.Context, runID string) error {
	return s.backend.Delete(ctx, naming.CancelMarker(runID))
}

// NextBuildNumber increments and returns the pipeline's build counter.
// Callers hold the pipeline lock, so the read-modify-write does not race.
func (s *Store) NextBuildNumber(ctx context.Context, pipelineID string) (int, error) {
	key := naming.BuildCounter(pipelineID)
	last := 0
	data, err := s.backend.Get(ctx, key)
	switch {
	case err == nil:
		last, err = strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return 0, fmt.Errorf("corrupt build counter %s: %w", key, err)
		}
	case !errors.Is(err, ErrNotFound):
		return 0, fmt.Errorf("failed to read build counter %s: %w", key, err)
	}

	next := last + 1
	if err := s.backend.Put(ctx, key, []byte(strconv.Itoa(next))); err != nil {
		return 0, fmt.Errorf("failed to write build counter %s: %w", key, err)
	}
	return next, nil
}
