package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/commerce/internal/repositories"
)

// ErrCounterUnavailable indicates the sequence store could not issue a value.
var ErrCounterUnavailable = errors.New("counter: unavailable")

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

// NewCounterService constructs a service that manages counter sequences on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// NextOrderNumber issues ORD-<year>-<seq6>. The sequence restarts every calendar year.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	now := s.clock()
	counterID := fmt.Sprintf("orders:%04d", now.Year())
	value, err := s.repo.Next(ctx, counterID, now)
	if err != nil {
		if repositories.IsUnavailable(err) {
			return "", fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
		}
		return "", fmt.Errorf("counter: next %s: %w", counterID, err)
	}
	return formatOrderNumber(now, value), nil
}

func formatOrderNumber(now time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%04d-%06d", now.Year(), seq)
}
