// Package supervisor runs the rover's long-lived components (wired together
// by cmd/rover) as a supervised group of goroutines: the first fatal error
// from a required one cancels the rest and is returned to the caller, which
// brings the whole process down.
package supervisor

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"
)

// Component is anything Supervisor can run: a blocking loop that returns
// only on fatal error (or nil on clean shutdown). It must observe ctx and
// return promptly once it's cancelled — Run's callers (a caught signal, or
// another component's fatal error) depend on that to bring the process down.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
	// Optional must be true for components whose failure should be logged
	// but not bring the process down (telemetry side-channels).
	Optional bool
}

// Supervisor launches a fixed set of components and waits for the first one
// to fail, or for the context to be cancelled (e.g. by a caught signal).
type Supervisor struct {
	components []Component
}

// New builds an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{}
}

// Add registers a component to be launched by Run.
func (s *Supervisor) Add(c Component) {
	s.components = append(s.components, c)
}

// Run launches every registered component in its own goroutine via
// errgroup.Group and blocks until every one of them has returned. The first
// required component to fail cancels the derived context (returned by
// errgroup.WithContext, passed to every Component.Run) so the rest unblock
// and exit too, instead of leaving Run hanging on components that never
// notice the failure. Optional components that fail are logged and
// otherwise ignored.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, c := range s.components {
		c := c
		g.Go(func() error {
			err := c.Run(gctx)
			if err == nil {
				return nil
			}
			if c.Optional {
				log.Printf("supervisor: optional component %q failed: %v", c.Name, err)
				return nil
			}
			log.Printf("supervisor: component %q failed: %v", c.Name, err)
			return err
		})
	}

	return g.Wait()
}
