package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hanko-field/commerce/internal/repositories"
)

// Counter issues monotonically increasing values per counter id.
type Counter struct {
	mu     sync.Mutex
	values map[string]int64
}

var _ repositories.CounterRepository = (*Counter)(nil)

// NewCounter constructs a counter set starting at zero.
func NewCounter() *Counter {
	return &Counter{values: make(map[string]int64)}
}

func (c *Counter) Next(_ context.Context, counterID string, _ time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[counterID]++
	return c.values[counterID], nil
}
