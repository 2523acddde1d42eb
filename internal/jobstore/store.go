// Package jobstore keeps the last observed state of relayer jobs submitted
// through this service.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"poolbridge/internal/relayer"
)

const (
	StatePending = "pending"
	StateMined   = "mined"
	StateFailed  = "failed"
)

// ErrSettled is returned by Save when the stored record is already Mined or
// Failed. Settled records are never overwritten.
var ErrSettled = errors.New("job already settled")

// Record is the persisted form of a relayer.Job.
type Record struct {
	JobID        string     `json:"jobId"`
	State        string     `json:"state"`
	TxHash       string     `json:"txHash,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	// Observed is false until the relayer has reported on the job; before
	// that CreatedAt is the local submission time.
	Observed bool `json:"observed"`
}

// FromJob converts an observed job, stamping UpdatedAt with now.
func FromJob(job relayer.Job, now time.Time) Record {
	rec := Record{
		JobID:      job.ID,
		State:      StatePending,
		CreatedAt:  job.CreatedOn,
		FinishedAt: job.FinishedOn,
		UpdatedAt:  now,
		Observed:   true,
	}
	switch s := job.State.(type) {
	case relayer.Mined:
		rec.State = StateMined
		rec.TxHash = s.TxHash
	case relayer.Failed:
		rec.State = StateFailed
		rec.FailedReason = s.Reason
	}
	return rec
}

// Job converts the record back into the relayer's view.
func (r Record) Job() relayer.Job {
	job := relayer.Job{ID: r.JobID, CreatedOn: r.CreatedAt, FinishedOn: r.FinishedAt}
	switch r.State {
	case StateMined:
		job.State = relayer.Mined{TxHash: r.TxHash}
	case StateFailed:
		job.State = relayer.Failed{Reason: r.FailedReason}
	default:
		job.State = relayer.Pending{}
	}
	return job
}

// Baseline returns the job that next must be a legal successor of. An
// unobserved record adopts next's createdOn.
func (r Record) Baseline(next relayer.Job) relayer.Job {
	job := r.Job()
	if !r.Observed {
		job.CreatedOn = next.CreatedOn
	}
	return job
}

// Store abstracts job persistence. Get returns nil, nil for unknown ids and
// Save returns ErrSettled instead of replacing a Mined or Failed record.
type Store interface {
	Get(ctx context.Context, jobID string) (*Record, error)
	Save(ctx context.Context, record Record) error
	Pending(ctx context.Context) ([]Record, error)
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, jobID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[jobID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, record Record) error {
	if record.JobID == "" {
		return errors.New("job id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if settled(m.data, record.JobID) {
		return ErrSettled
	}
	m.data[record.JobID] = record
	return nil
}

func (m *MemoryStore) Pending(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pendingOf(m.data), nil
}

// FileStore persists records to a JSON file. Suitable for a single process.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, &f.data); err != nil {
		return err
	}
	if f.data == nil {
		f.data = make(map[string]Record)
	}
	return nil
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, jobID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[jobID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *FileStore) Save(_ context.Context, record Record) error {
	if record.JobID == "" {
		return errors.New("job id is empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if settled(f.data, record.JobID) {
		return ErrSettled
	}
	f.data[record.JobID] = record
	return f.persist()
}

func (f *FileStore) Pending(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pendingOf(f.data), nil
}

func settled(data map[string]Record, jobID string) bool {
	cur, ok := data[jobID]
	return ok && cur.State != StatePending
}

func pendingOf(data map[string]Record) []Record {
	out := make([]Record, 0)
	for _, rec := range data {
		if rec.State == StatePending {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
