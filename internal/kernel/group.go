package kernel

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// group is an errgroup whose members' panics come back as errors, so a
// panicking loop stops the kernel through the normal shutdown path.
type group struct {
	inner  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func newGroup(ctx context.Context) *group {
	intermediate, cancel := context.WithCancel(ctx)
	g, groupCtx := errgroup.WithContext(intermediate)
	return &group{inner: g, ctx: groupCtx, cancel: cancel}
}

// Go runs f as a named member. The first error cancels the group context.
func (g *group) Go(name string, f func(ctx context.Context) error) {
	g.inner.Go(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%s panicked: %v\n%s", name, rec, debug.Stack())
			}
		}()
		if err := f(g.ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// Wait blocks until every member returns.
func (g *group) Wait() error {
	defer g.cancel()
	return g.inner.Wait()
}
