package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestNewCoordinator(t *testing.T) {
	c := NewCoordinator(nil)
	assert.Zero(t, c.StepCount())
	assert.False(t, c.Stopping())
}

func TestAdd_PriorityOrder(t *testing.T) {
	c := NewCoordinator(nil)

	c.Add(Step{Name: "low", Phase: PhaseManagers, Priority: 1, Stop: noop})
	c.Add(Step{Name: "high", Phase: PhaseManagers, Priority: 10, Stop: noop})
	c.Add(Step{Name: "mid-a", Phase: PhaseManagers, Priority: 5, Stop: noop})
	c.Add(Step{Name: "mid-b", Phase: PhaseManagers, Priority: 5, Stop: noop})
	c.AddFunc("feed", PhaseStatusFeed, noop)

	assert.Equal(t, 5, c.StepCount())
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, c.StepNames(PhaseManagers))
	assert.Equal(t, []string{"feed"}, c.StepNames(PhaseStatusFeed))
	assert.Empty(t, c.StepNames(PhaseBus))
}

func TestShutdown_PhaseOrder(t *testing.T) {
	c := NewCoordinator(nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) StopFunc {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	c.AddFunc("cleanup", PhaseCleanup, record("cleanup"))
	c.AddFunc("bus", PhaseBus, record("bus"))
	c.AddFunc("managers", PhaseManagers, record("managers"))
	c.AddFunc("pollers", PhasePollers, record("pollers"))
	c.AddFunc("feed", PhaseStatusFeed, record("feed"))

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, []string{"feed", "pollers", "managers", "bus", "cleanup"}, order)
	assert.True(t, c.Stopping())
}

func TestShutdown_FailureDoesNotStopLaterPhases(t *testing.T) {
	c := NewCoordinator(nil)
	boom := errors.New("boom")

	var cleaned atomic.Bool
	c.AddFunc("group-1", PhaseManagers, func(context.Context) error { return boom })
	c.AddFunc("lock", PhaseCleanup, func(context.Context) error {
		cleaned.Store(true)
		return nil
	})

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "phase Managers")
	assert.Contains(t, err.Error(), "group-1")
	assert.True(t, cleaned.Load())
}

func TestShutdown_StepTimeout(t *testing.T) {
	c := NewCoordinator(nil)
	c.Add(Step{
		Name:    "stuck",
		Phase:   PhaseBus,
		Timeout: 20 * time.Millisecond,
		Stop: func(context.Context) error {
			time.Sleep(time.Second)
			return nil
		},
	})

	began := time.Now()
	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish within")
	assert.Less(t, time.Since(began), 500*time.Millisecond)
}

func TestShutdown_DeadlineSkipsRemainingPhases(t *testing.T) {
	c := NewCoordinator(nil)
	c.SetDeadline(30 * time.Millisecond)

	var cleaned atomic.Bool
	c.AddFunc("slow", PhaseManagers, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.AddFunc("cleanup", PhaseCleanup, func(context.Context) error {
		cleaned.Store(true)
		return nil
	})

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, cleaned.Load())
}

func TestShutdown_RunsOnce(t *testing.T) {
	c := NewCoordinator(nil)

	var calls atomic.Int32
	c.AddFunc("count", PhaseCleanup, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, int32(1), calls.Load())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
}

func TestResults(t *testing.T) {
	c := NewCoordinator(nil)
	c.AddFunc("feed", PhaseStatusFeed, noop)
	c.AddFunc("bus", PhaseBus, func(context.Context) error { return errors.New("bad") })

	_ = c.Shutdown(context.Background())

	var results []StepResult
	for r := range c.Results() {
		results = append(results, r)
	}
	require.Len(t, results, 2)
	assert.Equal(t, "feed", results[0].Step)
	assert.True(t, results[0].OK())
	assert.Equal(t, PhaseBus, results[1].Phase)
	assert.False(t, results[1].OK())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "StatusFeed", PhaseStatusFeed.String())
	assert.Equal(t, "Pollers", PhasePollers.String())
	assert.Equal(t, "Managers", PhaseManagers.String())
	assert.Equal(t, "Bus", PhaseBus.String())
	assert.Equal(t, "Cleanup", PhaseCleanup.String())
	assert.Equal(t, "Unknown", Phase(99).String())
}
