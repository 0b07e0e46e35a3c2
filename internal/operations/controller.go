package operations

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dogild/garuda/internal/model"
	storageplugins "github.com/dogild/garuda/internal/plugins/storage"
	"github.com/dogild/garuda/internal/storage"
)

// StorageController is the subset of internal/storage.Controller that the
// operations pipeline calls. Declared locally so this package depends on a
// narrow capability set rather than the concrete type.
type StorageController interface {
	Instantiate(restName string) (model.Entity, error)
	Get(ctx context.Context, restName, identifier, filter string) (model.Entity, error)
	GetAll(ctx context.Context, parent model.Entity, restName string, page, pageSize int, filter, orderBy string) ([]model.Entity, int, error)
	Create(ctx context.Context, entity, parent model.Entity) error
	Update(ctx context.Context, entity model.Entity) error
	Delete(ctx context.Context, entity model.Entity) error
	Assign(ctx context.Context, restName string, entities []model.Entity, parent model.Entity) error
}

// PermissionsController grants or denies a (session, entity, action) tuple.
type PermissionsController interface {
	IsPermitted(ctx context.Context, session *model.Session, entity model.Entity, action model.Action) bool
}

// LogicController dispatches the pipeline hooks around storage execution.
type LogicController interface {
	BeginOperation(ctx context.Context, rc *model.Context)
	ShouldPerform(ctx context.Context, action model.Action, rc *model.Context)
	Preprocess(ctx context.Context, action model.Action, rc *model.Context)
	Postprocess(ctx context.Context, action model.Action, rc *model.Context)
	EndOperation(ctx context.Context, rc *model.Context)
}

// Controller is the Operations Controller: it resolves a request's resource
// path into parent/target entities, classifies the action, runs the
// permission check and logic-plugin hooks, and dispatches exactly one
// storage call in between, never letting a failure escape as a Go error —
// every failure path becomes an ErrorList on the Context and a Failure
// Response instead.
type Controller struct {
	storage     StorageController
	permissions PermissionsController
	logic       LogicController
}

// NewController wires the three sub-controllers the pipeline calls into.
func NewController(storageCtl StorageController, permissionsCtl PermissionsController, logicCtl LogicController) *Controller {
	return &Controller{storage: storageCtl, permissions: permissionsCtl, logic: logicCtl}
}

// Execute parses path, classifies the action from req.Method, resolves
// parent/target, checks permissions, runs the pipeline hooks around one
// storage call, and returns the assembled Response. session.RootObject
// stands in as the parent when path has depth 1.
func (c *Controller) Execute(ctx context.Context, session *model.Session, req *model.Request, path string) (*model.Response, []*model.PushEvent) {
	rc := model.NewContext(session, req)

	segments, err := ParseResourcePath(path)
	if err != nil {
		rc.Errors.Add(model.ErrorTypeInvalid, "", "invalid resource path", err.Error(), "")
		return c.finish(rc)
	}
	req.ResourcePath = segments

	target, _ := req.Target()
	action, err := ClassifyAction(req.Method, target)
	if err != nil {
		rc.Errors.Add(model.ErrorTypeInvalid, "", "invalid request", err.Error(), "")
		return c.finish(rc)
	}
	rc.Action = action

	if parentSeg, ok := req.ParentSegment(); ok {
		parent, err := c.storage.Get(ctx, parentSeg.RestName, parentSeg.Identifier, "")
		if err != nil {
			rc.Errors.Add(mapStorageErr(err), "", "parent lookup failed", err.Error(), "")
			return c.finish(rc)
		}
		if parent == nil {
			rc.Errors.Add(model.ErrorTypeNotFound, "", "parent not found", fmt.Sprintf("%s/%s", parentSeg.RestName, parentSeg.Identifier), "")
			return c.finish(rc)
		}
		rc.Parent = parent
	} else {
		rc.Parent = session.RootObject
	}

	if err := c.resolveTarget(ctx, rc, action, target, req); err != nil {
		return c.finish(rc)
	}

	// A CREATE is checked against the parent it is created under, since the
	// new object has not been stored or given an owner yet.
	permTarget := rc.Object
	if permTarget == nil || action == model.ActionCreate {
		permTarget = rc.Parent
	}
	if !c.permissions.IsPermitted(ctx, session, permTarget, action) {
		rc.Errors.Add(model.ErrorTypeNotAllowed, "", "not permitted", "", "")
		return c.finish(rc)
	}

	c.runPipeline(ctx, rc, action, func() {
		c.executeStorage(ctx, rc, action, target, req)
	})

	return c.finish(rc)
}

// Assign runs the permission check and pipeline hooks around a storage
// Assign call. No HTTP-equivalent method maps to ASSIGN; channels that
// support it invoke this entry point directly instead of going through
// Execute's method-based classification.
func (c *Controller) Assign(ctx context.Context, session *model.Session, restName string, entities []model.Entity, parent model.Entity) (*model.Response, []*model.PushEvent) {
	rc := model.NewContext(session, &model.Request{})
	rc.Action = model.ActionAssign
	rc.Parent = parent

	if !c.permissions.IsPermitted(ctx, session, parent, model.ActionAssign) {
		rc.Errors.Add(model.ErrorTypeNotAllowed, "", "not permitted", "", "")
		return c.finish(rc)
	}

	c.runPipeline(ctx, rc, model.ActionAssign, func() {
		if err := c.storage.Assign(ctx, restName, entities, parent); err != nil {
			rc.Errors.Add(mapStorageErr(err), "", "assign failed", err.Error(), "")
		}
	})

	return c.finish(rc)
}

// resolveTarget populates rc.Object (READ/UPDATE/DELETE/CREATE) or leaves it
// nil for READALL, whose listing is resolved during storage execution.
func (c *Controller) resolveTarget(ctx context.Context, rc *model.Context, action model.Action, target model.PathSegment, req *model.Request) error {
	switch action {
	case model.ActionRead, model.ActionUpdate, model.ActionDelete:
		obj, err := c.storage.Get(ctx, target.RestName, target.Identifier, req.Param("filter"))
		if err != nil {
			rc.Errors.Add(mapStorageErr(err), "", "storage error", err.Error(), "")
			return err
		}
		if obj == nil {
			err := fmt.Errorf("%s/%s not found", target.RestName, target.Identifier)
			rc.Errors.Add(model.ErrorTypeNotFound, "", "not found", err.Error(), "")
			return err
		}
		rc.Object = obj
	case model.ActionCreate:
		obj, err := c.storage.Instantiate(target.RestName)
		if err != nil {
			rc.Errors.Add(mapStorageErr(err), "", "instantiate failed", err.Error(), "")
			return err
		}
		if err := obj.FromDict(req.Data); err != nil {
			rc.Errors.Add(model.ErrorTypeInvalid, "", "invalid body", err.Error(), "")
			return err
		}
		if rc.Parent != nil {
			obj.SetParent(rc.Parent.RestName(), rc.Parent.Identifier())
		}
		rc.Object = obj
	case model.ActionReadAll:
		// Resolved later by executeStorage's GetAll call.
	}
	return nil
}

// runPipeline runs begin_operation, should_perform_<action> and
// preprocess_<action> in order, calling doStorage between preprocess and
// postprocess. A non-empty ErrorList after any stage skips every remaining
// stage up to and including doStorage, but postprocess_<action> and
// end_operation always run so plugins can observe the failure.
func (c *Controller) runPipeline(ctx context.Context, rc *model.Context, action model.Action, doStorage func()) {
	c.logic.BeginOperation(ctx, rc)
	if !rc.Failed() {
		c.logic.ShouldPerform(ctx, action, rc)
	}
	if !rc.Failed() {
		c.logic.Preprocess(ctx, action, rc)
	}
	if !rc.Failed() {
		doStorage()
	}
	c.logic.Postprocess(ctx, action, rc)
	c.logic.EndOperation(ctx, rc)
}

// executeStorage performs the one storage call an action needs and, on
// success, records a PushEvent for CREATE/UPDATE/DELETE.
func (c *Controller) executeStorage(ctx context.Context, rc *model.Context, action model.Action, target model.PathSegment, req *model.Request) {
	switch action {
	case model.ActionReadAll:
		page, pageSize := paginationParams(req)
		entities, total, err := c.storage.GetAll(ctx, rc.Parent, target.RestName, page, pageSize, req.Param("filter"), req.Param("order_by"))
		if err != nil {
			rc.Errors.Add(mapStorageErr(err), "", "storage error", err.Error(), "")
			return
		}
		rc.Objects = entities
		rc.TotalCount = total
		rc.Page = page
		rc.PageSize = pageSize

	case model.ActionCreate:
		if err := c.storage.Create(ctx, rc.Object, rc.Parent); err != nil {
			rc.Errors.Add(mapStorageErr(err), "", "create failed", err.Error(), "")
			return
		}
		rc.AddEvent(model.ActionCreate, rc.Object)

	case model.ActionUpdate:
		if err := rc.Object.FromDict(req.Data); err != nil {
			rc.Errors.Add(model.ErrorTypeInvalid, "", "invalid body", err.Error(), "")
			return
		}
		if err := c.storage.Update(ctx, rc.Object); err != nil {
			rc.Errors.Add(mapStorageErr(err), "", "update failed", err.Error(), "")
			return
		}
		rc.AddEvent(model.ActionUpdate, rc.Object)

	case model.ActionDelete:
		if err := c.storage.Delete(ctx, rc.Object); err != nil {
			rc.Errors.Add(mapStorageErr(err), "", "delete failed", err.Error(), "")
			return
		}
		rc.AddEvent(model.ActionDelete, rc.Object)
	}
}

// finish turns a finished Context into a Response plus whatever PushEvents
// it accumulated: a non-empty ErrorList always yields Failure with Status
// equal to the list's type, regardless of what else the pipeline
// accumulated, and a failed pipeline never carries events (CREATE/UPDATE/
// DELETE only append one on the success path in executeStorage).
func (c *Controller) finish(rc *model.Context) (*model.Response, []*model.PushEvent) {
	if rc.Failed() {
		return model.FailureResponse(rc.Errors), nil
	}
	if rc.Action == model.ActionReadAll {
		return model.SuccessListResponse(rc.Objects, rc.TotalCount, rc.Page, rc.PageSize), rc.Events
	}
	return model.SuccessResponse(rc.Object), rc.Events
}

// paginationParams reads page/page_size query parameters, defaulting page
// to 0 and page_size to 0 (meaning "unpaginated", per MemoryStorage.GetAll).
func paginationParams(req *model.Request) (page, pageSize int) {
	if v := req.Param("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			page = n
		}
	}
	if v := req.Param("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			pageSize = n
		}
	}
	return page, pageSize
}

// mapStorageErr classifies an error returned by the storage controller into
// the operations controller's error taxonomy.
func mapStorageErr(err error) string {
	if errors.Is(err, storage.ErrNotFound) {
		return model.ErrorTypeNotFound
	}
	if storageplugins.IsConflict(err) {
		return model.ErrorTypeConflict
	}
	return model.ErrorTypeUnknown
}
