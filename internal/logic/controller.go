// Package logic is the Logic Controller: it dispatches each pipeline hook
// to every registered LogicPlugin that implements it, concurrently, each
// against its own shallow Context copy, under a hard deadline. Plugins that
// miss the deadline are abandoned rather than canceled, matching the
// original source's gevent-join-with-timeout semantics. This concurrency
// shape generalizes the teacher's one-goroutine-per-ticker idiom
// (internal/sessions/manager.go cleanupLoop) to one-goroutine-per-plugin
// joined under context.WithTimeout + sync.WaitGroup — plain stdlib
// concurrency plumbing, since no ecosystem library in the pack fits a
// deadline-bounded fan-out/join better than the two together.
package logic

import (
	"context"
	"sync"
	"time"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// DefaultDeadline bounds how long a single hook invocation across all
// registered logic plugins may run before stragglers are abandoned.
const DefaultDeadline = 2 * time.Second

// Controller dispatches pipeline hooks to the registered logic plugins.
type Controller struct {
	registry *plugins.Registry
	deadline time.Duration
}

// NewController returns a controller with the given per-hook deadline. A
// non-positive deadline falls back to DefaultDeadline.
func NewController(registry *plugins.Registry, deadline time.Duration) *Controller {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Controller{registry: registry, deadline: deadline}
}

// BeginOperation runs every registered BeginOperationHook concurrently.
func (c *Controller) BeginOperation(ctx context.Context, rc *model.Context) {
	c.fanOut(ctx, rc, func(ctx context.Context, p plugins.LogicPlugin, copy *model.Context) bool {
		hook, ok := p.(plugins.BeginOperationHook)
		if !ok {
			return false
		}
		hook.BeginOperation(ctx, copy)
		return true
	})
}

// ShouldPerform runs every registered ShouldPerformHook concurrently.
func (c *Controller) ShouldPerform(ctx context.Context, action model.Action, rc *model.Context) {
	c.fanOut(ctx, rc, func(ctx context.Context, p plugins.LogicPlugin, copy *model.Context) bool {
		hook, ok := p.(plugins.ShouldPerformHook)
		if !ok {
			return false
		}
		hook.ShouldPerform(ctx, action, copy)
		return true
	})
}

// Preprocess runs every registered PreprocessHook concurrently.
func (c *Controller) Preprocess(ctx context.Context, action model.Action, rc *model.Context) {
	c.fanOut(ctx, rc, func(ctx context.Context, p plugins.LogicPlugin, copy *model.Context) bool {
		hook, ok := p.(plugins.PreprocessHook)
		if !ok {
			return false
		}
		hook.Preprocess(ctx, action, copy)
		return true
	})
}

// Postprocess runs every registered PostprocessHook concurrently.
func (c *Controller) Postprocess(ctx context.Context, action model.Action, rc *model.Context) {
	c.fanOut(ctx, rc, func(ctx context.Context, p plugins.LogicPlugin, copy *model.Context) bool {
		hook, ok := p.(plugins.PostprocessHook)
		if !ok {
			return false
		}
		hook.Postprocess(ctx, action, copy)
		return true
	})
}

// EndOperation runs every registered EndOperationHook concurrently.
func (c *Controller) EndOperation(ctx context.Context, rc *model.Context) {
	c.fanOut(ctx, rc, func(ctx context.Context, p plugins.LogicPlugin, copy *model.Context) bool {
		hook, ok := p.(plugins.EndOperationHook)
		if !ok {
			return false
		}
		hook.EndOperation(ctx, copy)
		return true
	})
}

// fanOut invokes run against a fresh Context copy for every registered
// logic plugin implementing the relevant hook, each in its own goroutine,
// bounded by c.deadline. Survivors are merged back into rc in registration
// order once every goroutine reports or the deadline fires, whichever
// comes first.
func (c *Controller) fanOut(ctx context.Context, rc *model.Context, run func(ctx context.Context, p plugins.LogicPlugin, copy *model.Context) bool) {
	registered := c.registry.LogicPlugins()
	if len(registered) == 0 {
		return
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	// One buffered channel per registered plugin, indexed by registration
	// order, so the final drain below can merge survivors back in that
	// order regardless of which goroutine happens to finish first.
	resultChans := make([]chan *model.Context, len(registered))
	for i := range resultChans {
		resultChans[i] = make(chan *model.Context, 1)
	}

	var wg sync.WaitGroup
	for i, p := range registered {
		i, p := i, p
		copy := rc.Copy()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if run(deadlineCtx, p, copy) {
				resultChans[i] <- copy
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-deadlineCtx.Done():
	}

	// Merge in registration order. Stragglers past the deadline are
	// abandoned: their channel send never blocks them, but this drain is
	// non-blocking, so a straggler that hasn't reported yet simply
	// contributes nothing.
	for _, ch := range resultChans {
		select {
		case r := <-ch:
			rc.Merge(r)
		default:
		}
	}
}
