package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/repositories/memory"
)

type stubCounterRepository struct {
	mu     sync.Mutex
	nextFn func(context.Context, string, time.Time) (int64, error)
	calls  []string
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, now time.Time) (int64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, counterID)
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, now)
	}
	return 0, nil
}

func TestCounterServiceNextOrderNumberFormatsByYear(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, time.Time) (int64, error) {
		return 42, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	number, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if number != "ORD-2025-000042" {
		t.Fatalf("unexpected order number %s", number)
	}
	if len(repo.calls) != 1 || repo.calls[0] != "orders:2025" {
		t.Fatalf("unexpected counter calls %v", repo.calls)
	}
}

func TestCounterServiceIssuesUniqueNumbersConcurrently(t *testing.T) {
	svc, err := NewCounterService(CounterServiceDeps{Repository: memory.NewCounter()})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := svc.NextOrderNumber(context.Background())
			if err != nil {
				t.Errorf("next order number: %v", err)
				return
			}
			mu.Lock()
			seen[number] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 20 {
		t.Fatalf("expected 20 unique numbers, got %d", len(seen))
	}
}

func TestCounterServiceClassifiesUnavailable(t *testing.T) {
	repo := &stubCounterRepository{nextFn: func(context.Context, string, time.Time) (int64, error) {
		return 0, memory.Unavailable("counter.next")
	}}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	_, err = svc.NextOrderNumber(context.Background())
	if !errors.Is(err, ErrCounterUnavailable) || !repositories.IsUnavailable(err) {
		t.Fatalf("expected unavailable counter error, got %v", err)
	}
}

func TestNewCounterServiceRequiresRepository(t *testing.T) {
	if _, err := NewCounterService(CounterServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}
