// Package shutdown tears consolebot down in a fixed order: the status feed
// first, then pollers, group managers, the event bus, and finally cleanup.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"consolebot-go/internal/config"
)

// Phase groups steps that stop together
type Phase int

const (
	PhaseStatusFeed Phase = iota // feed clients and HTTP listener
	PhasePollers                 // status polling, so no new notifications arrive
	PhaseManagers                // group managers and their consoles
	PhaseBus                     // event bus delivery goroutines
	PhaseCleanup                 // lock file, log files, watchers
)

var phases = [...]Phase{PhaseStatusFeed, PhasePollers, PhaseManagers, PhaseBus, PhaseCleanup}

var phaseNames = map[Phase]string{
	PhaseStatusFeed: "StatusFeed",
	PhasePollers:    "Pollers",
	PhaseManagers:   "Managers",
	PhaseBus:        "Bus",
	PhaseCleanup:    "Cleanup",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "Unknown"
}

// StopFunc stops one component. It should return once ctx is done.
type StopFunc func(ctx context.Context) error

// Step is one registered piece of teardown
type Step struct {
	Name     string
	Phase    Phase
	Priority int           // higher stops earlier within the phase
	Timeout  time.Duration // zero takes the coordinator's step timeout
	Stop     StopFunc
}

// StepResult reports how a step went
type StepResult struct {
	Phase   Phase
	Step    string
	Err     error
	Elapsed time.Duration
}

// OK reports whether the step finished without error
func (r StepResult) OK() bool { return r.Err == nil }

// Coordinator runs registered steps phase by phase, once
type Coordinator struct {
	logger *zap.Logger

	mu          sync.RWMutex
	steps       map[Phase][]Step
	stepTimeout time.Duration
	deadline    time.Duration

	once     sync.Once
	stopping atomic.Bool
	done     chan struct{}
	err      error
	results  chan StepResult
}

// NewCoordinator returns a coordinator using the configured shutdown timeouts
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		logger:      logger.Named("shutdown"),
		steps:       make(map[Phase][]Step),
		stepTimeout: config.ShutdownHandlerTimeout,
		deadline:    config.ShutdownTimeout,
		done:        make(chan struct{}),
		results:     make(chan StepResult, 64),
	}
}

// Add registers a step. Steps of equal priority keep registration order.
func (c *Coordinator) Add(s Step) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Timeout <= 0 {
		s.Timeout = c.stepTimeout
	}
	list := append(c.steps[s.Phase], s)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	c.steps[s.Phase] = list

	c.logger.Debug("Shutdown step added",
		zap.String("step", s.Name),
		zap.Stringer("phase", s.Phase),
		zap.Int("priority", s.Priority))
}

// AddFunc registers fn as a default-priority step
func (c *Coordinator) AddFunc(name string, phase Phase, fn StopFunc) {
	c.Add(Step{Name: name, Phase: phase, Stop: fn})
}

// SetDeadline bounds the whole teardown
func (c *Coordinator) SetDeadline(d time.Duration) {
	c.mu.Lock()
	c.deadline = d
	c.mu.Unlock()
}

// SetStepTimeout applies to steps added afterwards without their own timeout
func (c *Coordinator) SetStepTimeout(d time.Duration) {
	c.mu.Lock()
	c.stepTimeout = d
	c.mu.Unlock()
}

// Stopping reports whether Shutdown has begun
func (c *Coordinator) Stopping() bool { return c.stopping.Load() }

// Done is closed once Shutdown returns
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Results yields one entry per step that ran and is closed when shutdown ends.
// Entries beyond its buffer are dropped.
func (c *Coordinator) Results() <-chan StepResult { return c.results }

// StepCount returns the number of registered steps
func (c *Coordinator) StepCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, list := range c.steps {
		n += len(list)
	}
	return n
}

// StepNames lists the steps of phase in the order they will run
func (c *Coordinator) StepNames(phase Phase) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.steps[phase]))
	for _, s := range c.steps[phase] {
		names = append(names, s.Name)
	}
	return names
}

// Shutdown runs every phase in order. A failing step does not stop later
// ones; the deadline does. Repeated calls return the first outcome.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.stopping.Store(true)
		c.err = c.run(ctx)
		close(c.results)
		close(c.done)
	})
	return c.err
}

func (c *Coordinator) run(parent context.Context) error {
	c.mu.RLock()
	deadline := c.deadline
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(parent, deadline)
	defer cancel()

	began := time.Now()
	c.logger.Info("Shutting down")

	var errs []error
	for _, phase := range phases {
		if err := c.runPhase(ctx, phase); err != nil {
			errs = append(errs, fmt.Errorf("phase %s: %w", phase, err))
		}
		if ctx.Err() != nil {
			c.logger.Warn("Shutdown deadline passed, skipping remaining phases",
				zap.Stringer("after", phase),
				zap.Duration("elapsed", time.Since(began)))
			errs = append(errs, fmt.Errorf("shutdown deadline: %w", ctx.Err()))
			break
		}
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("Shutdown finished with failures",
			zap.Duration("elapsed", time.Since(began)),
			zap.Error(err))
		return err
	}
	c.logger.Info("Shutdown finished", zap.Duration("elapsed", time.Since(began)))
	return nil
}

func (c *Coordinator) runPhase(ctx context.Context, phase Phase) error {
	c.mu.RLock()
	steps := append([]Step(nil), c.steps[phase]...)
	c.mu.RUnlock()
	if len(steps) == 0 {
		return nil
	}

	c.logger.Info("Stopping phase",
		zap.Stringer("phase", phase),
		zap.Int("steps", len(steps)))

	var errs []error
	for _, s := range steps {
		if err := c.runStep(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// runStep gives s at most its timeout; a step that ignores its context is
// left running in the background
func (c *Coordinator) runStep(ctx context.Context, s Step) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	began := time.Now()
	finished := make(chan error, 1)
	go func() { finished <- s.Stop(stepCtx) }()

	var err error
	select {
	case err = <-finished:
	case <-stepCtx.Done():
		err = fmt.Errorf("step did not finish within %v", s.Timeout)
	}

	res := StepResult{Phase: s.Phase, Step: s.Name, Err: err, Elapsed: time.Since(began)}
	select {
	case c.results <- res:
	default:
	}

	if err != nil {
		c.logger.Warn("Shutdown step failed",
			zap.String("step", s.Name),
			zap.Duration("elapsed", res.Elapsed),
			zap.Error(err))
		return err
	}
	c.logger.Debug("Shutdown step done",
		zap.String("step", s.Name),
		zap.Duration("elapsed", res.Elapsed))
	return nil
}
