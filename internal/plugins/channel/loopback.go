// Package channel holds the reference ChannelPlugin implementations: an
// in-process loopback used by tests and a WebSocket-framed transport used by
// cmd/garuda's default deployment, grounded on spec.md §4.10's channel
// plugin contract (manifest/run/stop/did_fork/did_exit).
package channel

import (
	"context"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// CoreFacade is the subset of *core.Controller a channel plugin drives.
// Declared locally so this package never imports internal/core — the
// opposite dependency direction from the Plugin.SetCore backreference,
// avoided the same way internal/core declares its own narrow interfaces
// onto internal/sessions and internal/push.
type CoreFacade interface {
	ExecuteModelRequest(ctx context.Context, req *model.Request, path string) *model.Response
	ExecuteEventsRequest(ctx context.Context, req *model.Request) (*model.Session, *model.Response)
}

// Loopback is a transport-free ChannelPlugin: it hands requests straight to
// the core controller in the caller's goroutine. Used by tests that need a
// registered channel without standing up a listener.
type Loopback struct {
	plugins.Base
	core CoreFacade

	stop chan struct{}
}

// NewLoopback returns a Loopback driving core.
func NewLoopback(core CoreFacade) *Loopback {
	return &Loopback{
		Base: plugins.NewBase(plugins.Manifest{Name: "loopback", Version: "1.0", Identifier: "loopback"}),
		core: core,
		stop: make(chan struct{}),
	}
}

// Execute hands req straight to the core controller, bypassing any wire
// framing. Exists so tests can drive a registered channel directly.
func (c *Loopback) Execute(ctx context.Context, req *model.Request, path string) *model.Response {
	return c.core.ExecuteModelRequest(ctx, req, path)
}

// Run blocks until Stop is called or ctx is done.
func (c *Loopback) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return nil
	}
}

// Stop requests Run to return.
func (c *Loopback) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Loopback) DidFork() {}
func (c *Loopback) DidExit()  {}
