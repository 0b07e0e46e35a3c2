// Package core is the Core Controller: the single entry point a channel
// plugin calls into. It classifies every incoming request as either a
// fresh authentication, a lookup against an existing session, or an events
// long-poll, then delegates to the Operations Controller and forwards any
// generated events to the Push Controller, grounded on
// original_source/garuda/core/controllers/core_controller.py's
// execute_model_request/execute_events_request/start/stop.
package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
	"github.com/dogild/garuda/internal/push"
	"github.com/dogild/garuda/internal/ratelimit"
	"github.com/dogild/garuda/internal/sessions"
)

// OperationsController runs the resource-path pipeline for one request.
// Declared locally so this package depends on a narrow capability set
// rather than the concrete *operations.Controller type.
type OperationsController interface {
	Execute(ctx context.Context, session *model.Session, req *model.Request, path string) (*model.Response, []*model.PushEvent)
}

// SessionsController persists sessions, resets their TTL on activity, and
// reports expiry to whatever registered it via OnExpire.
type SessionsController interface {
	CreateSession(ctx context.Context, garudaUUID string, root model.Entity) (*model.Session, error)
	GetSession(ctx context.Context, uuid string) (*model.Session, error)
	ResetSessionTTL(ctx context.Context, uuid string) error
	AllSessions(ctx context.Context) []*model.Session
	OnExpire(fn func(ctx context.Context, uuid string))
	Start(ctx context.Context)
	Stop()
}

// PushController fans a generated event out to interested sessions and
// discards a session's queue on expiry.
type PushController interface {
	PushEvents(ctx context.Context, sessionSource push.SessionSource, event *model.PushEvent) error
	Flush(ctx context.Context, uuid string) error
}

// sessionSourceAdapter bridges SessionsController.AllSessions' ctx-taking
// signature to push.SessionSource's zero-arg contract. The push controller
// only ever calls AllSessions synchronously within the request that
// produced the event being fanned out, so closing over that request's ctx
// is safe — the adapter never outlives the call that built it.
type sessionSourceAdapter struct {
	ctx      context.Context
	sessions SessionsController
}

func (a sessionSourceAdapter) AllSessions() []*model.Session {
	return a.sessions.AllSessions(a.ctx)
}

// Controller wires the sub-controllers of one worker together. garudaUUID
// identifies the worker process that owns this controller (and, through
// it, every session this worker mints) — it is the Go equivalent of the
// source's Garuda.__init__ self._uuid threaded down through
// GAChannelsController into each forked worker's GACoreController.
type Controller struct {
	garudaUUID string
	registry   *plugins.Registry
	operations OperationsController
	sessions   SessionsController
	push       PushController
	limiter    *ratelimit.Limiter

	mu      sync.Mutex
	started bool
}

// SetRateLimiter installs a per-session throttle on runOperation. Unset by
// default, matching the teacher's gateway limiter being an opt-in
// middleware rather than always-on.
func (c *Controller) SetRateLimiter(l *ratelimit.Limiter) {
	c.limiter = l
}

// NewController wires the four collaborators together and registers the
// push controller's Flush as the sessions controller's expiry callback —
// at construction time, not inside Start, so a Stop/Start cycle never
// double-registers it.
func NewController(garudaUUID string, registry *plugins.Registry, operations OperationsController, sessionsCtl SessionsController, pushCtl PushController) *Controller {
	c := &Controller{
		garudaUUID: garudaUUID,
		registry:   registry,
		operations: operations,
		sessions:   sessionsCtl,
		push:       pushCtl,
	}
	sessionsCtl.OnExpire(func(ctx context.Context, uuid string) {
		if err := pushCtl.Flush(ctx, uuid); err != nil {
			slog.Error("core: flush expired session queue", "uuid", uuid, "error", err)
		}
	})
	return c
}

// Start launches the sessions controller's background expiry watcher. The
// push controller has no background task of its own — it rides on the
// sessions controller's goroutine via the OnExpire callback registered in
// NewController — so there is nothing else to start here. A second Start
// without an intervening Stop errors, matching the source's
// "already running" RuntimeError.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("core: controller is already running")
	}
	c.sessions.Start(ctx)
	c.started = true
	return nil
}

// Stop halts the sessions controller's background watcher. A Stop on a
// controller that was never started is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.sessions.Stop()
	c.started = false
}

// ExecuteModelRequest is the channel's entry point for every CRUD-shaped
// request. It resolves a session in one of two ways: an existing session
// identifier the request carries, or a fresh authentication against the
// registered authentication plugins. First contact with valid credentials
// returns the authenticated root object itself as the response body,
// mirroring the source's "return GAResponseSuccess(content=[session.root_object])"
// branch, rather than running the Operations Controller at all.
func (c *Controller) ExecuteModelRequest(ctx context.Context, req *model.Request, path string) *model.Response {
	if identifier, ok := sessions.ExtractSessionIdentifier(c.registry.AuthProviders(), req); ok {
		if session, err := c.sessions.GetSession(ctx, identifier); err == nil && session != nil {
			return c.runOperation(ctx, session, req, path)
		}
	}

	return c.authenticate(ctx, req)
}

// authenticate tries every registered authentication plugin that manages
// req, in registration order, and mints a session for the first one that
// authenticates successfully.
func (c *Controller) authenticate(ctx context.Context, req *model.Request) *model.Response {
	for _, provider := range c.registry.AuthProviders() {
		if !provider.ShouldManage(req) {
			continue
		}

		root, err := provider.Authenticate(ctx, req, nil)
		if err != nil {
			return unauthorizedResponse(model.ErrorTypeAuthenticationFailure, "authentication failed", err.Error())
		}

		session, err := c.sessions.CreateSession(ctx, c.garudaUUID, root)
		if err != nil {
			slog.Error("core: create session", "error", err)
			return unauthorizedResponse(model.ErrorTypeAuthenticationFailure, "could not create session", err.Error())
		}
		return model.SuccessResponse(session.RootObject)
	}

	return unauthorizedResponse(model.ErrorTypeUnauthorized, "unauthorized access", "could not grant access, please log in")
}

// runOperation resets the session's TTL, runs the Operations Controller,
// and forwards any generated events to the Push Controller before
// returning the assembled response.
func (c *Controller) runOperation(ctx context.Context, session *model.Session, req *model.Request, path string) *model.Response {
	if c.limiter != nil && !c.limiter.Allow(session.UUID) {
		return unauthorizedResponse(model.ErrorTypeNotAllowed, "too many requests", "this session has exceeded its request rate limit")
	}

	if err := c.sessions.ResetSessionTTL(ctx, session.UUID); err != nil {
		slog.Warn("core: reset session ttl", "uuid", session.UUID, "error", err)
	}

	resp, events := c.operations.Execute(ctx, session, req, path)

	source := sessionSourceAdapter{ctx: ctx, sessions: c.sessions}
	for _, event := range events {
		if err := c.push.PushEvents(ctx, source, event); err != nil {
			slog.Error("core: push event", "action", event.Action, "error", err)
		}
	}

	return resp
}

// ExecuteEventsRequest validates the session named by req.Token for a
// channel's long-poll loop. Success returns (session, nil) and the caller
// then drains the Push Controller itself; failure returns (nil, Failure).
func (c *Controller) ExecuteEventsRequest(ctx context.Context, req *model.Request) (*model.Session, *model.Response) {
	session, err := c.sessions.GetSession(ctx, req.Token)
	if err != nil || session == nil {
		return nil, unauthorizedResponse(model.ErrorTypeUnauthorized, "unauthorized access", "could not grant access, please log in")
	}

	if err := c.sessions.ResetSessionTTL(ctx, session.UUID); err != nil {
		slog.Warn("core: reset session ttl", "uuid", session.UUID, "error", err)
	}

	return session, nil
}

func unauthorizedResponse(errType, title, description string) *model.Response {
	errs := model.NewErrorList()
	errs.Add(errType, "", title, description, "")
	return model.FailureResponse(errs)
}
