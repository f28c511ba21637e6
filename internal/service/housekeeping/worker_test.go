package housekeeping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/storage/memory"
)

type stubCleaner struct {
	mu sync.Mutex

	results   []int
	errs      []error
	callCount int
	before    time.Time
}

func (s *stubCleaner) DeleteExpired(_ context.Context, before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCount++
	s.before = before
	return s.next()
}

func (s *stubCleaner) ExpireIdle(context.Context, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCount++
	return s.next()
}

func (s *stubCleaner) next() (int, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	n := s.results[0]
	s.results = s.results[1:]
	return n, nil
}

func (s *stubCleaner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func TestWorker_DeleteExpiredKeys_Batches(t *testing.T) {
	t.Parallel()

	keys := &stubCleaner{results: []int{2, 2, 1}}
	worker := NewWorker(nil, keys, WithBatchSize(2))

	deleted, err := worker.DeleteExpiredKeys(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpiredKeys failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("unexpected deleted total: got=%d want=5", deleted)
	}
	if calls := keys.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
}

func TestWorker_DeleteExpiredKeys_Error(t *testing.T) {
	t.Parallel()

	keys := &stubCleaner{errs: []error{errors.New("boom")}}
	worker := NewWorker(nil, keys, WithBatchSize(10))

	deleted, err := worker.DeleteExpiredKeys(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected DeleteExpiredKeys error")
	}
	if deleted != 0 {
		t.Fatalf("unexpected deleted total: got=%d want=0", deleted)
	}
}

func TestWorker_DeleteExpiredKeys_DefaultsToClock(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	keys := &stubCleaner{}
	worker := NewWorker(nil, keys, WithClock(func() time.Time { return now }))

	if _, err := worker.DeleteExpiredKeys(context.Background(), time.Time{}); err != nil {
		t.Fatalf("DeleteExpiredKeys failed: %v", err)
	}
	if !keys.before.Equal(now) {
		t.Fatalf("unexpected cutoff: got=%s want=%s", keys.before, now)
	}
}

func TestWorker_ExpireSessions_Batches(t *testing.T) {
	t.Parallel()

	sessions := &stubCleaner{results: []int{3, 1}}
	worker := NewWorker(sessions, nil, WithBatchSize(3))

	expired, err := worker.ExpireSessions(context.Background())
	if err != nil {
		t.Fatalf("ExpireSessions failed: %v", err)
	}
	if expired != 4 {
		t.Fatalf("unexpected expired total: got=%d want=4", expired)
	}
}

func TestWorker_RunOnce_MemoryIdempotency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	if _, err := repo.CreateProcessing(ctx, "commit:old", "hash", now.Add(-time.Minute)); err != nil {
		t.Fatalf("seed old key: %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "commit:fresh", "hash", now.Add(time.Hour)); err != nil {
		t.Fatalf("seed fresh key: %v", err)
	}

	worker := NewWorker(nil, repo, WithClock(func() time.Time { return now }))
	worker.RunOnce(ctx)

	if _, err := repo.Get(ctx, "commit:old"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected old key to be removed, got %v", err)
	}
	if _, err := repo.Get(ctx, "commit:fresh"); err != nil {
		t.Fatalf("expected fresh key to stay: %v", err)
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	sessions := &stubCleaner{}
	keys := &stubCleaner{}
	worker := NewWorker(sessions, keys, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	if sessions.calls() == 0 || keys.calls() == 0 {
		t.Fatal("expected both tasks to run at least once")
	}
}
