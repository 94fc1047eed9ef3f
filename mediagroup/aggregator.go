// Package mediagroup coalesces a burst of photos that Telegram delivers as
// separate updates into a single unit of work. Processing waits until the
// burst has been idle for the debounce window, so an album uploaded as one
// logical submission is handled once, with all of its items.
package mediagroup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/nalunchbot/core/logger"
	"github.com/m3rciful/nalunchbot/core/metrics"
)

// DefaultDebounce is the idle window after the last arrival before a batch fires.
const DefaultDebounce = 500 * time.Millisecond

// tick bounds how often a group's watcher re-checks its deadline.
const tick = 50 * time.Millisecond

// CompleteFunc receives the full batch once its debounce window elapses.
type CompleteFunc[T any] func(groupID string, items []T)

type group[T any] struct {
	items    []T
	deadline time.Time
	complete CompleteFunc[T]
}

// Aggregator collects items per group id and fires each group's completion
// callback exactly once, after the group has been idle for the debounce
// window. Items are delivered in arrival order.
type Aggregator[T any] struct {
	mu       sync.Mutex
	debounce time.Duration
	groups   map[string]*group[T]

	// now is swapped in tests.
	now func() time.Time
}

// New builds an aggregator. debounce <= 0 selects DefaultDebounce.
func New[T any](debounce time.Duration) *Aggregator[T] {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Aggregator[T]{
		debounce: debounce,
		groups:   make(map[string]*group[T]),
		now:      time.Now,
	}
}

// Add appends item to the batch for groupID, creating the batch if absent,
// and pushes the batch deadline out by the debounce window. The last
// registered callback wins, so callers must supply a consistent callback per
// group. The first item of a batch spawns a watcher goroutine that owns the
// batch until it fires.
func (a *Aggregator[T]) Add(groupID string, item T, complete CompleteFunc[T]) {
	a.mu.Lock()
	g, ok := a.groups[groupID]
	if !ok {
		g = &group[T]{complete: complete}
		a.groups[groupID] = g
	}
	g.items = append(g.items, item)
	g.deadline = a.now().Add(a.debounce)
	g.complete = complete
	size := len(g.items)
	a.mu.Unlock()

	if logger.ShouldSampleDebug() {
		logger.Debug(context.Background(), "batch", "batch.add",
			slog.String("group_id", groupID),
			slog.Int("batch_size", size),
		)
	}

	if !ok {
		go a.watch(groupID)
	}
}

// Pending reports the number of live groups.
func (a *Aggregator[T]) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// watch polls the group's deadline and fires its callback once the deadline
// passes. Removal from the live set happens under the lock, before the
// callback runs, so a late Add starts a brand-new batch instead of reopening
// a fired one.
func (a *Aggregator[T]) watch(groupID string) {
	for {
		time.Sleep(tick)

		a.mu.Lock()
		g, ok := a.groups[groupID]
		if !ok {
			a.mu.Unlock()
			return
		}
		if a.now().Before(g.deadline) {
			a.mu.Unlock()
			continue
		}
		delete(a.groups, groupID)
		items := g.items
		complete := g.complete
		a.mu.Unlock()

		metrics.BatchCompleted(len(items))
		logger.Info(context.Background(), "batch", "batch.fire",
			slog.String("group_id", groupID),
			slog.Int("batch_size", len(items)),
		)
		if complete != nil {
			complete(groupID, items)
		}
		return
	}
}
