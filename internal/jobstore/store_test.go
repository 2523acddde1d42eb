package jobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"poolbridge/internal/relayer"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, "missing"); rec != nil {
		t.Fatalf("expected nil for missing job")
	}

	record := Record{
		JobID:     "1",
		State:     StatePending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(ctx, Record{}); err == nil {
		t.Fatalf("expected error for empty job id")
	}

	got, _ := store.Get(ctx, "1")
	if got == nil || got.State != StatePending {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestPendingOrdersByCreation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	_ = store.Save(ctx, Record{JobID: "b", State: StatePending, CreatedAt: base.Add(time.Second)})
	_ = store.Save(ctx, Record{JobID: "a", State: StatePending, CreatedAt: base})
	_ = store.Save(ctx, Record{JobID: "c", State: StateMined, TxHash: "0x1", CreatedAt: base})

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].JobID != "a" || pending[1].JobID != "b" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	finished := time.Unix(20, 0).UTC()
	record := Record{
		JobID:        "42",
		State:        StateFailed,
		FailedReason: "reverted",
		CreatedAt:    time.Unix(10, 0).UTC(),
		FinishedAt:   &finished,
		UpdatedAt:    time.Unix(21, 0).UTC(),
	}
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Get(ctx, "42")
	if got == nil || got.FailedReason != "reverted" || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestRecordJobConversion(t *testing.T) {
	created := time.UnixMilli(1).UTC()
	finished := time.UnixMilli(2).UTC()
	jobs := []relayer.Job{
		{ID: "p", State: relayer.Pending{}, CreatedOn: created},
		{ID: "m", State: relayer.Mined{TxHash: "0xabc"}, CreatedOn: created, FinishedOn: &finished},
		{ID: "f", State: relayer.Failed{Reason: "nope"}, CreatedOn: created, FinishedOn: &finished},
	}
	for _, job := range jobs {
		rec := FromJob(job, time.Now())
		back := rec.Job()
		if back.ID != job.ID || back.State != job.State || !back.CreatedOn.Equal(job.CreatedOn) {
			t.Fatalf("round trip changed job %s: %+v", job.ID, back)
		}
	}
}

func TestSaveNeverReopensSettledJob(t *testing.T) {
	ctx := context.Background()
	file, err := NewFileStore(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	finished := time.Unix(20, 0).UTC()

	for name, store := range map[string]Store{"memory": NewMemoryStore(), "file": file} {
		mined := Record{JobID: "9", State: StateMined, TxHash: "0xabc", CreatedAt: time.Unix(10, 0).UTC(), FinishedAt: &finished, Observed: true}
		if err := store.Save(ctx, Record{JobID: "9", State: StatePending, CreatedAt: time.Unix(5, 0).UTC()}); err != nil {
			t.Fatalf("%s: save pending: %v", name, err)
		}
		if err := store.Save(ctx, mined); err != nil {
			t.Fatalf("%s: save mined: %v", name, err)
		}

		stale := Record{JobID: "9", State: StatePending, CreatedAt: time.Unix(10, 0).UTC(), Observed: true}
		if err := store.Save(ctx, stale); !errors.Is(err, ErrSettled) {
			t.Fatalf("%s: expected ErrSettled, got %v", name, err)
		}
		got, _ := store.Get(ctx, "9")
		if got == nil || got.State != StateMined || got.TxHash != "0xabc" {
			t.Fatalf("%s: settled record was overwritten: %+v", name, got)
		}
	}
}

func TestFileStoreToleratesNullDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	if err := os.WriteFile(path, []byte("null"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Save(context.Background(), Record{JobID: "1", State: StatePending}); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestBaselineAdoptsRelayerCreationForLocalSubmission(t *testing.T) {
	submitted := time.Unix(100, 0).UTC()
	relayerCreated := time.UnixMilli(99_500).UTC()
	next := relayer.Job{ID: "7", State: relayer.Pending{}, CreatedOn: relayerCreated}

	local := Record{JobID: "7", State: StatePending, CreatedAt: submitted}
	if err := relayer.CheckTransition(local.Baseline(next), next); err != nil {
		t.Fatalf("local submission should accept the relayer's createdOn: %v", err)
	}

	observed := FromJob(relayer.Job{ID: "7", State: relayer.Pending{}, CreatedOn: submitted}, time.Now())
	if err := relayer.CheckTransition(observed.Baseline(next), next); err == nil {
		t.Fatalf("observed record must keep its createdOn")
	}
}
