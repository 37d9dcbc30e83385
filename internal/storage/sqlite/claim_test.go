package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/KohakuBlueleaf/DIG/internal/storage"
	"github.com/KohakuBlueleaf/DIG/internal/types"
)

func TestClaimNextBasic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	submitTask(t, store, "task-1", "prompt one")

	task, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if task.TaskID != "task-1" {
		t.Errorf("expected task-1, got %s", task.TaskID)
	}
	if task.Status != types.StatusProcessing {
		t.Errorf("expected processing, got %s", task.Status)
	}

	// The store must agree with the returned copy.
	got, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != types.StatusProcessing {
		t.Errorf("expected processing in store, got %s", got.Status)
	}
}

func TestClaimNextEmptyQueue(t *testing.T) {
	store := newTestStore(t, "")

	_, err := store.ClaimNext(context.Background())
	if !errors.Is(err, storage.ErrNoPending) {
		t.Fatalf("expected ErrNoPending on empty queue, got %v", err)
	}
}

func TestClaimNextSkipsNonPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	submitTask(t, store, "busy", "p")
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	// The only row is processing now; the queue is effectively empty.
	_, err := store.ClaimNext(ctx)
	if !errors.Is(err, storage.ErrNoPending) {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
}

func TestClaimNextFIFO(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	submitTask(t, store, "first", "p")
	submitTask(t, store, "second", "p")
	submitTask(t, store, "third", "p")

	for _, want := range []string{"first", "second", "third"} {
		task, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext failed: %v", err)
		}
		if task.TaskID != want {
			t.Errorf("expected %s next, got %s", want, task.TaskID)
		}
	}
}

func TestConcurrentClaimSingleTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	submitTask(t, store, "contested", "p")

	const claimers = 8
	var (
		wg        sync.WaitGroup
		won       atomic.Int32
		contended atomic.Int32
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ClaimNext(ctx)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, storage.ErrContended),
				errors.Is(err, storage.ErrNoPending):
				contended.Add(1)
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", won.Load())
	}
	if won.Load()+contended.Load() != claimers {
		t.Errorf("lost claimers: %d won + %d contended != %d",
			won.Load(), contended.Load(), claimers)
	}
}

func TestConcurrentClaimNoDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	const tasks = 10
	for i := 0; i < tasks; i++ {
		submitTask(t, store, fmt.Sprintf("task-%02d", i), "p")
	}

	// More claimers than tasks, each retrying through contention until the
	// queue drains. Every task must be claimed exactly once.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]int)
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := store.ClaimNext(ctx)
				if errors.Is(err, storage.ErrNoPending) {
					return
				}
				if errors.Is(err, storage.ErrContended) {
					continue
				}
				if err != nil {
					t.Errorf("unexpected claim error: %v", err)
					return
				}
				mu.Lock()
				claimed[task.TaskID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != tasks {
		t.Errorf("expected %d distinct tasks claimed, got %d", tasks, len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("task %s claimed %d times", id, n)
		}
	}
}
