package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/KohakuBlueleaf/DIG/internal/types"
)

// newTestStore creates a Store backed by a temp-dir database file.
//
// File-based databases are more reliable than in-memory for connection pool
// scenarios (the pool would otherwise need a single shared connection), and
// each test gets its own directory for isolation.
func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	ctx := context.Background()
	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if !store.IsClosed() {
			if cerr := store.Close(); cerr != nil {
				t.Fatalf("Failed to close test database: %v", cerr)
			}
		}
	})

	return store
}

// submitTask submits a pending task and returns it. A short sleep keeps
// created_at strictly increasing across serial calls so FIFO assertions
// don't depend on timestamp tie-breaks.
func submitTask(t *testing.T, store *Store, taskID, prompt string) *types.Task {
	t.Helper()

	task := &types.Task{
		TaskID:    taskID,
		Prompt:    prompt,
		ExtraArgs: types.ExtraArgs{},
	}
	if _, err := store.Submit(context.Background(), task); err != nil {
		t.Fatalf("Submit(%s) failed: %v", taskID, err)
	}
	time.Sleep(5 * time.Millisecond)
	return task
}
