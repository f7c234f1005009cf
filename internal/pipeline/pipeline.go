package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/session"
)

// Phase is one stage of the scan pipeline.
//
// Run reads and appends to the session's collections. It must contain its
// own per-target failures (timeouts, refused connections, one bad host) and
// return an error only for conditions that should abort the whole run.
// A phase may be re-run from scratch after a crash, so it relies on the
// collections ignoring duplicates rather than on any state of its own.
type Phase interface {
	// Name returns the phase name recorded in the completed list.
	Name() string

	// Run executes the phase against the session.
	Run(ctx context.Context, sess *session.Session, cfg *config.Config) error
}

// PhaseFunc is the signature of a phase implemented as a plain function.
type PhaseFunc func(ctx context.Context, sess *session.Session, cfg *config.Config) error

type funcPhase struct {
	name string
	fn   PhaseFunc
}

func (f funcPhase) Name() string { return f.name }

func (f funcPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	return f.fn(ctx, sess, cfg)
}

// Func adapts a function to the Phase interface.
func Func(name string, fn PhaseFunc) Phase {
	return funcPhase{name: name, fn: fn}
}

// Registry is the ordered, fixed list of phases of a pipeline.
// It holds no run state.
type Registry struct {
	phases []Phase
	index  map[string]int
}

// NewRegistry builds a registry from phases in execution order.
// Empty and duplicate names are rejected.
func NewRegistry(phases ...Phase) (*Registry, error) {
	r := &Registry{
		phases: make([]Phase, 0, len(phases)),
		index:  make(map[string]int, len(phases)),
	}
	for _, p := range phases {
		name := p.Name()
		if name == "" {
			return nil, ErrEmptyPhaseName
		}
		if _, ok := r.index[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePhase, name)
		}
		r.index[name] = len(r.phases)
		r.phases = append(r.phases, p)
	}
	return r, nil
}

// Phases returns the phases in execution order.
func (r *Registry) Phases() []Phase {
	return append([]Phase(nil), r.phases...)
}

// Names returns the phase names in execution order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.phases))
	for i, p := range r.phases {
		names[i] = p.Name()
	}
	return names
}

// Has reports whether a phase named name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Len returns the number of phases.
func (r *Registry) Len() int {
	return len(r.phases)
}

// Pending returns the names of the phases not in completed, in order.
func (r *Registry) Pending(completed []string) []string {
	done := make(map[string]bool, len(completed))
	for _, name := range completed {
		done[name] = true
	}
	pending := make([]string, 0, len(r.phases))
	for _, p := range r.phases {
		if !done[p.Name()] {
			pending = append(pending, p.Name())
		}
	}
	return pending
}

// PhaseState is the state of a phase within one run of the driver.
type PhaseState string

// Phase states. A FAILED or interrupted phase is PENDING again on the next run.
const (
	StatePending   PhaseState = "PENDING"
	StateRunning   PhaseState = "RUNNING"
	StateCompleted PhaseState = "COMPLETED"
	StateFailed    PhaseState = "FAILED"
	// StateSkipped marks a phase completed by a previous run.
	StateSkipped PhaseState = "SKIPPED"
)

// Event describes a phase state transition.
type Event struct {
	Phase   string
	State   PhaseState
	Elapsed time.Duration
	Err     error
}

// Observer receives every phase state transition. Observers are called
// synchronously from the driver goroutine.
type Observer func(Event)

// Driver runs the phases of a registry against a session, one at a time,
// skipping phases the session has already completed.
type Driver struct {
	logger    *slog.Logger
	observers []Observer
}

// Option is a function that configures a Driver.
type Option func(*Driver)

// WithLogger sets a custom logger for the driver.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithObserver adds an observer of phase state transitions.
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// NewDriver creates a new Driver with the given options.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Run executes every phase of reg not yet completed by sess, in order.
//
// After a phase returns successfully its name is recorded and the store is
// persisted before the next phase starts, so a crash after that point never
// re-runs it. A phase returning an error aborts the run with a *PhaseError
// and is retried from scratch next time. If ctx is cancelled, the running
// phase is not recorded as completed, the store is persisted, and Run
// returns an error wrapping ErrInterrupted.
func (d *Driver) Run(ctx context.Context, sess *session.Session, reg *Registry, cfg *config.Config) error {
	// Bookkeeping must reach the store even after an interrupt.
	storeCtx := context.WithoutCancel(ctx)

	completed, err := sess.CompletedPhases(storeCtx)
	if err != nil {
		return fmt.Errorf("failed to read completed phases: %w", err)
	}
	for _, name := range completed {
		if !reg.Has(name) {
			return fmt.Errorf("%w: %s", ErrUnknownPhase, name)
		}
	}
	done := make(map[string]bool, len(completed))
	for _, name := range completed {
		done[name] = true
	}

	for _, p := range reg.phases {
		name := p.Name()
		if done[name] {
			d.logger.Debug("skipping completed phase", "phase", name)
			d.notify(Event{Phase: name, State: StateSkipped})
			continue
		}

		if ctx.Err() != nil {
			d.persist(storeCtx, sess)
			return fmt.Errorf("%w before phase %s", ErrInterrupted, name)
		}

		d.logger.Info("executing phase", "phase", name, "domain", sess.Domain())
		d.notify(Event{Phase: name, State: StateRunning})
		start := time.Now()

		err := invoke(ctx, p, sess, cfg)
		elapsed := time.Since(start)

		if ctx.Err() != nil {
			d.logger.Warn("phase interrupted", "phase", name, "elapsed", elapsed)
			d.notify(Event{Phase: name, State: StatePending, Elapsed: elapsed, Err: ctx.Err()})
			d.persist(storeCtx, sess)
			return fmt.Errorf("%w during phase %s", ErrInterrupted, name)
		}

		if err != nil {
			d.logger.Error("phase failed", "phase", name, "elapsed", elapsed, "error", err)
			d.notify(Event{Phase: name, State: StateFailed, Elapsed: elapsed, Err: err})
			d.persist(storeCtx, sess)
			return &PhaseError{Phase: name, Err: err}
		}

		if err := sess.MarkCompleted(storeCtx, name); err != nil {
			return &PhaseError{Phase: name, Err: fmt.Errorf("failed to record completion: %w", err)}
		}
		if err := sess.Persist(storeCtx); err != nil {
			return &PhaseError{Phase: name, Err: fmt.Errorf("failed to persist session: %w", err)}
		}

		d.logger.Debug("phase completed", "phase", name, "elapsed", elapsed)
		d.notify(Event{Phase: name, State: StateCompleted, Elapsed: elapsed})
	}

	return nil
}

// invoke runs one phase, turning a panic into an error.
func invoke(ctx context.Context, p Phase, sess *session.Session, cfg *config.Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPhasePanic, r, debug.Stack())
		}
	}()
	return p.Run(ctx, sess, cfg)
}

func (d *Driver) persist(ctx context.Context, sess *session.Session) {
	if err := sess.Persist(ctx); err != nil {
		d.logger.Error("failed to persist session", "domain", sess.Domain(), "error", err)
	}
}

func (d *Driver) notify(e Event) {
	for _, o := range d.observers {
		o(e)
	}
}

// IsInterrupted reports whether err is the result of a cancelled run.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
