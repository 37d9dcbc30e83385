package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KohakuBlueleaf/DIG/internal/storage"
	"github.com/KohakuBlueleaf/DIG/internal/types"
)

func TestSubmitAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	task := &types.Task{
		TaskID:    "task-1",
		Prompt:    "a cat on a windowsill",
		ExtraArgs: types.ExtraArgs{"seed": float64(7)},
	}
	if _, err := store.Submit(ctx, task); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Prompt != "a cat on a windowsill" {
		t.Errorf("expected prompt to round-trip, got %q", got.Prompt)
	}
	if got.Status != types.StatusPending {
		t.Errorf("expected status pending, got %s", got.Status)
	}
	if got.ExtraArgs["seed"] != float64(7) {
		t.Errorf("expected seed 7, got %v", got.ExtraArgs["seed"])
	}
	if got.ImagePath != "" {
		t.Errorf("expected no artifact on a fresh task, got %q", got.ImagePath)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestGetUnknownTask(t *testing.T) {
	store := newTestStore(t, "")

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitUpsertResetsToPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	submitTask(t, store, "task-x", "first prompt")

	// Walk the task to completed.
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "task-x", "task-x.webp"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	// Resubmitting the same id replaces the prompt, returns the row to
	// pending, and reports the artifact that must be removed.
	task := &types.Task{TaskID: "task-x", Prompt: "second prompt"}
	prev, err := store.Submit(ctx, task)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if prev != "task-x.webp" {
		t.Errorf("expected replaced artifact task-x.webp, got %q", prev)
	}

	got, err := store.Get(ctx, "task-x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != types.StatusPending {
		t.Errorf("expected status pending after resubmit, got %s", got.Status)
	}
	if got.Prompt != "second prompt" {
		t.Errorf("expected replaced prompt, got %q", got.Prompt)
	}
	if got.ImagePath != "" {
		t.Errorf("expected artifact cleared on resubmit, got %q", got.ImagePath)
	}
}

func TestSubmitPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	first := submitTask(t, store, "task-c", "one")
	time.Sleep(10 * time.Millisecond)

	task := &types.Task{TaskID: "task-c", Prompt: "two"}
	if _, err := store.Submit(ctx, task); err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}

	got, err := store.Get(ctx, "task-c")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// created_at drives FIFO and must survive the upsert.
	if got.CreatedAt.After(first.CreatedAt.Add(5 * time.Millisecond)) {
		t.Errorf("expected created_at preserved, got %v (was %v)", got.CreatedAt, first.CreatedAt)
	}
}

func TestMarkCompletedGating(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	submitTask(t, store, "task-g", "prompt")

	// Completing a pending task must fail and leave the row untouched.
	err := store.MarkCompleted(ctx, "task-g", "task-g.webp")
	if !errors.Is(err, storage.ErrBadState) {
		t.Fatalf("expected ErrBadState for pending task, got %v", err)
	}
	got, _ := store.Get(ctx, "task-g")
	if got.Status != types.StatusPending || got.ImagePath != "" {
		t.Errorf("failed complete mutated the row: %+v", got)
	}

	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "task-g", "task-g.webp"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	// Completing twice must fail too.
	err = store.MarkCompleted(ctx, "task-g", "task-g.webp")
	if !errors.Is(err, storage.ErrBadState) {
		t.Fatalf("expected ErrBadState for completed task, got %v", err)
	}

	err = store.MarkCompleted(ctx, "ghost", "ghost.webp")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown task, got %v", err)
	}
}

func TestResetClearsArtifact(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	submitTask(t, store, "task-r", "prompt")
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "task-r", "task-r.webp"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	prev, err := store.Reset(ctx, "task-r")
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if prev != "task-r.webp" {
		t.Errorf("expected cleared artifact task-r.webp, got %q", prev)
	}

	got, err := store.Get(ctx, "task-r")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != types.StatusPending {
		t.Errorf("expected pending after reset, got %s", got.Status)
	}
	if got.ImagePath != "" {
		t.Errorf("expected artifact cleared on reset, got %q", got.ImagePath)
	}
}

func TestResetUnknownTask(t *testing.T) {
	store := newTestStore(t, "")

	_, err := store.Reset(context.Background(), "UNKNOWN")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	submitTask(t, store, "a", "p")
	submitTask(t, store, "b", "p")
	submitTask(t, store, "c", "p")
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[types.StatusPending] != 2 {
		t.Errorf("expected 2 pending, got %d", counts[types.StatusPending])
	}
	if counts[types.StatusProcessing] != 1 {
		t.Errorf("expected 1 processing, got %d", counts[types.StatusProcessing])
	}
	if counts[types.StatusCompleted] != 0 {
		t.Errorf("expected 0 completed, got %d", counts[types.StatusCompleted])
	}
}

func TestResetStale(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	submitTask(t, store, "stale", "p")
	submitTask(t, store, "fresh", "p")
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	// Age one of the processing rows behind the sweep cutoff.
	old := time.Now().UTC().Add(-time.Hour)
	if _, err := store.UnderlyingDB().ExecContext(ctx,
		`UPDATE task SET updated_at = ? WHERE task_id = 'stale'`, old); err != nil {
		t.Fatalf("failed to age row: %v", err)
	}

	swept, err := store.ResetStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("ResetStale failed: %v", err)
	}
	if swept != 1 {
		t.Errorf("expected 1 swept row, got %d", swept)
	}

	got, _ := store.Get(ctx, "stale")
	if got.Status != types.StatusPending {
		t.Errorf("expected stale row back in pending, got %s", got.Status)
	}
	got, _ = store.Get(ctx, "fresh")
	if got.Status != types.StatusProcessing {
		t.Errorf("expected fresh row untouched, got %s", got.Status)
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := t.TempDir() + "/durable.db"

	store := newTestStore(t, dbPath)
	submitTask(t, store, "task-d", "p")
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "task-d", "task-d.webp"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "task-d")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Status != types.StatusCompleted {
		t.Errorf("expected completed after reopen, got %s", got.Status)
	}
	if got.ImagePath != "task-d.webp" {
		t.Errorf("expected artifact reference after reopen, got %q", got.ImagePath)
	}
}
