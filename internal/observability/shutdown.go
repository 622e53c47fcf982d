package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ShutdownCoordinator runs named teardown steps in reverse registration
// order, so a component always stops before the things it was built on.
// Each step runs at most once.
type ShutdownCoordinator struct {
	mu    sync.Mutex
	steps []shutdownStep
}

type shutdownStep struct {
	name string
	fn   func(context.Context) error
}

// Register adds a step.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, shutdownStep{name: name, fn: fn})
}

// Shutdown runs and forgets every registered step, newest first. A failing
// step does not stop the others; their errors are joined. Steps still run
// after ctx expires so each can release what it holds.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		start := time.Now()
		err := step.fn(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "shutdown step failed", "component", step.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		slog.DebugContext(ctx, "component stopped", "component", step.name, "took", time.Since(start))
	}
	return errors.Join(errs...)
}
