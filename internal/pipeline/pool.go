package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Default pool settings, used when no option overrides them.
const (
	defaultWorkers     = 10
	defaultTaskTimeout = 10 * time.Second
)

// poolConfig holds the settings shared by Map, ForEach, and Gather.
type poolConfig struct {
	workers     int
	perKey      int
	taskTimeout time.Duration
	retries     int
	logger      *slog.Logger
	progressW   io.Writer
	progressMsg string
}

// PoolOption configures Map, ForEach, and Gather.
type PoolOption func(*poolConfig)

// WithWorkers sets the number of tasks running at once.
// For Gather it is the aggregate cap on in-flight requests.
func WithWorkers(n int) PoolOption {
	return func(c *poolConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithPerKeyLimit caps the in-flight tasks that share a key in Gather,
// such as requests to one host. Zero means no per-key cap.
func WithPerKeyLimit(n int) PoolOption {
	return func(c *poolConfig) {
		if n > 0 {
			c.perKey = n
		}
	}
}

// WithTaskTimeout bounds every attempt of a task.
func WithTaskTimeout(d time.Duration) PoolOption {
	return func(c *poolConfig) {
		if d > 0 {
			c.taskTimeout = d
		}
	}
}

// WithRetries sets the number of extra attempts after a failed one.
func WithRetries(n int) PoolOption {
	return func(c *poolConfig) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithPoolLogger sets the logger that receives task failures.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(c *poolConfig) {
		c.logger = logger
	}
}

// WithProgress draws a progress bar on w that advances as tasks settle.
// A nil writer disables it.
func WithProgress(w io.Writer, description string) PoolOption {
	return func(c *poolConfig) {
		c.progressW = w
		c.progressMsg = description
	}
}

// ProbeOptions returns the bounded pool settings of a mode profile.
func ProbeOptions(p config.Profile) []PoolOption {
	return []PoolOption{
		WithWorkers(p.Workers),
		WithTaskTimeout(p.TaskTimeout),
		WithRetries(p.Retries),
	}
}

// CrawlOptions returns the cooperative batch settings of a mode profile.
func CrawlOptions(p config.Profile) []PoolOption {
	return []PoolOption{
		WithWorkers(p.CrawlConcurrency),
		WithPerKeyLimit(p.PerHostConnections),
		WithTaskTimeout(p.TaskTimeout),
		WithRetries(0),
	}
}

func newPoolConfig(opts []PoolOption) *poolConfig {
	c := &poolConfig{
		workers:     defaultWorkers,
		taskTimeout: defaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// tracker advances an optional progress bar.
type tracker struct {
	bar *progressbar.ProgressBar
}

func (c *poolConfig) newTracker(total int) *tracker {
	if c.progressW == nil || total == 0 {
		return &tracker{}
	}
	return &tracker{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(c.progressW),
		progressbar.OptionSetDescription(c.progressMsg),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)}
}

func (t *tracker) done() {
	if t.bar != nil {
		_ = t.bar.Add(1)
	}
}

func (t *tracker) finish() {
	if t.bar != nil {
		_ = t.bar.Finish()
	}
}

// Map runs fn over items on a bounded pool and returns the results of the
// tasks that succeeded, in no particular order.
//
// Each attempt runs under its own timeout; a failed attempt is retried up
// to the configured number of times. A task that fails every attempt, or
// panics, is logged at debug level and contributes nothing; it never
// affects its siblings. A task that ignores its context is abandoned when
// the timeout expires, so the wall clock of one task is bounded by
// timeout × (retries + 1).
func Map[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts ...PoolOption) []R {
	cfg := newPoolConfig(opts)
	progress := cfg.newTracker(len(items))
	defer progress.finish()

	var (
		mu      sync.Mutex
		results = make([]R, 0, len(items))
	)

	var g errgroup.Group
	g.SetLimit(cfg.workers)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer progress.done()

			r, err := attempt(ctx, cfg, func(ctx context.Context) (R, error) {
				return fn(ctx, item)
			})
			if err != nil {
				cfg.logger.Debug("task failed", "error", err)
				// Don't return the error: siblings must keep running.
				return nil
			}

			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // tasks never return errors
	return results
}

// ForEach is Map for tasks with no result. It returns the number of tasks
// that succeeded.
func ForEach[T any](ctx context.Context, items []T, fn func(context.Context, T) error, opts ...PoolOption) int {
	ok := Map(ctx, items, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	}, opts...)
	return len(ok)
}

// Gather fetches many items concurrently with one goroutine per item and
// returns the de-duplicated union of every successful result, after all
// tasks have settled.
//
// In-flight tasks are capped in aggregate by WithWorkers and per key by
// WithPerKeyLimit, where key maps an item to the remote host it talks to.
// A failing task contributes nothing; the join never short-circuits.
func Gather[T any, R comparable](ctx context.Context, items []T, key func(T) string, fn func(context.Context, T) ([]R, error), opts ...PoolOption) []R {
	cfg := newPoolConfig(opts)
	progress := cfg.newTracker(len(items))
	defer progress.finish()

	aggregate := semaphore.NewWeighted(int64(cfg.workers))
	hosts := newKeyedSemaphore(cfg.perKey)

	var (
		mu    sync.Mutex
		union = make(map[R]struct{})
	)

	var g errgroup.Group
	for _, item := range items {
		g.Go(func() error {
			defer progress.done()

			k := ""
			if key != nil {
				k = key(item)
			}
			// Per-key slot first so a busy host does not hold aggregate slots.
			release, err := hosts.acquire(ctx, k)
			if err != nil {
				return nil
			}
			defer release()
			if err := aggregate.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer aggregate.Release(1)

			found, err := attempt(ctx, cfg, func(ctx context.Context) ([]R, error) {
				return fn(ctx, item)
			})
			if err != nil {
				cfg.logger.Debug("fetch failed", "key", k, "error", err)
				return nil
			}

			mu.Lock()
			for _, r := range found {
				union[r] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // tasks never return errors

	out := make([]R, 0, len(union))
	for r := range union {
		out = append(out, r)
	}
	return out
}

// attempt runs fn up to retries+1 times, each under the task timeout.
func attempt[R any](ctx context.Context, cfg *poolConfig, fn func(context.Context) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := 0; i <= cfg.retries; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		r, err := runWithTimeout(ctx, cfg.taskTimeout, fn)
		if err == nil {
			return r, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// runWithTimeout runs fn in its own goroutine and gives up on it once the
// timeout expires, even if fn does not watch its context.
func runWithTimeout[R any](ctx context.Context, timeout time.Duration, fn func(context.Context) (R, error)) (R, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		r   R
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if p := recover(); p != nil {
				o.err = fmt.Errorf("%w: %v", ErrTaskPanic, p)
			}
			ch <- o
		}()
		o.r, o.err = fn(ctx)
	}()

	select {
	case o := <-ch:
		return o.r, o.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// keyedSemaphore hands out one weighted semaphore per key.
type keyedSemaphore struct {
	limit int64
	mu    sync.Mutex
	sems  map[string]*semaphore.Weighted
}

func newKeyedSemaphore(limit int) *keyedSemaphore {
	return &keyedSemaphore{limit: int64(limit), sems: make(map[string]*semaphore.Weighted)}
}

func (k *keyedSemaphore) acquire(ctx context.Context, key string) (func(), error) {
	if k.limit <= 0 {
		return func() {}, nil
	}
	k.mu.Lock()
	sem, ok := k.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(k.limit)
		k.sems[key] = sem
	}
	k.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
