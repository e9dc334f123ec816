// Package startup brings service dependencies up in declaration order and
// tears them down in reverse. The whole sequence is retried with Fibonacci
// backoff, which covers the usual boot race against the database container.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is one unit of the boot sequence. DependsOn names registered
// dependencies that must be started first.
type Dependency interface {
	Name() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type status int

const (
	statusPending status = iota
	statusStarting
	statusStarted
	statusStopped
	statusFailed
)

// Graph holds registered dependencies in registration order, so repeated
// boots start them the same way.
type Graph struct {
	order    []Dependency
	byName   map[string]Dependency
	statuses map[string]status

	logger      ectologger.Logger
	maxAttempts int
}

func New(logger ectologger.Logger, maxAttempts int) *Graph {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Graph{
		byName:      make(map[string]Dependency),
		statuses:    make(map[string]status),
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Add registers a dependency. Registering the same name twice keeps the
// first registration.
func (g *Graph) Add(dep Dependency) {
	if _, exists := g.byName[dep.Name()]; exists {
		return
	}
	g.byName[dep.Name()] = dep
	g.order = append(g.order, dep)
}

// Start brings every registered dependency up, prerequisites first. On
// failure the sequence is retried from the top; already-started dependencies
// are skipped on the next attempt.
func (g *Graph) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		lastErr = g.startAll(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == g.maxAttempts {
			break
		}

		wait := time.Duration(a) * time.Second
		g.logger.WithError(lastErr).Infof("Startup attempt %d/%d failed, retrying in %s", attempt, g.maxAttempts, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", g.maxAttempts, lastErr)
}

func (g *Graph) startAll(ctx context.Context) error {
	for _, dep := range g.order {
		if err := g.start(ctx, dep); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) start(ctx context.Context, dep Dependency) error {
	switch g.statuses[dep.Name()] {
	case statusStarted:
		return nil
	case statusStarting:
		return fmt.Errorf("dependency cycle through %q", dep.Name())
	}
	g.statuses[dep.Name()] = statusStarting

	for _, name := range dep.DependsOn() {
		prerequisite, ok := g.byName[name]
		if !ok {
			g.statuses[dep.Name()] = statusFailed
			return fmt.Errorf("dependency %q requires unregistered %q", dep.Name(), name)
		}
		if err := g.start(ctx, prerequisite); err != nil {
			g.statuses[dep.Name()] = statusFailed
			return err
		}
	}

	g.logger.WithField("dependency", dep.Name()).Infof("Starting dependency %q", dep.Name())
	if err := dep.Start(ctx); err != nil {
		g.statuses[dep.Name()] = statusFailed
		return fmt.Errorf("start %s: %w", dep.Name(), err)
	}
	g.statuses[dep.Name()] = statusStarted
	return nil
}

// Stop tears started dependencies down in reverse registration order.
// Dependencies that never started are skipped.
func (g *Graph) Stop(ctx context.Context) error {
	for i := len(g.order) - 1; i >= 0; i-- {
		dep := g.order[i]
		if g.statuses[dep.Name()] != statusStarted {
			continue
		}

		g.logger.WithField("dependency", dep.Name()).Infof("Stopping dependency %q", dep.Name())
		if err := dep.Stop(ctx); err != nil {
			return fmt.Errorf("stop %s: %w", dep.Name(), err)
		}
		g.statuses[dep.Name()] = statusStopped
	}
	return nil
}
