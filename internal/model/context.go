package model

// Context is the per-request scratchpad created at pipeline entry and
// consumed at pipeline exit. It is never shared across requests; the Logic
// Controller hands each plugin a shallow Copy of it and merges survivors
// back single-threadedly once its fan-out completes or times out.
type Context struct {
	Session *Session
	Request *Request
	Action  Action

	Parent Entity
	Object Entity
	Objects []Entity

	TotalCount int
	Page       int
	PageSize   int

	Errors *ErrorList
	Events []*PushEvent

	// baseEventCount is the number of Events this Context already carried
	// at the moment it was produced by Copy, so Merge can tell which of
	// its Events are genuinely new rather than inherited from the base.
	baseEventCount int
}

// NewContext builds a fresh, empty Context for a request bound to session.
func NewContext(session *Session, req *Request) *Context {
	return &Context{
		Session: session,
		Request: req,
		Errors:  NewErrorList(),
	}
}

// Copy returns a shallow copy suitable for handing to one logic-plugin
// delegate invocation: the Errors and Events slices are duplicated, and
// each PropertyError is deep-copied, so concurrent delegates don't race on
// or mutate each other's backing storage. Parent, Object and Session are
// shared by reference (plugins are expected to mutate entity fields in
// place, not replace the pointer).
func (c *Context) Copy() *Context {
	cp := *c
	cp.Errors = NewErrorList()
	cp.Errors.Type = c.Errors.Type
	for _, pe := range c.Errors.Properties {
		cp.Errors.Properties = append(cp.Errors.Properties, &PropertyError{
			Type:     pe.Type,
			Property: pe.Property,
			Errors:   append([]Error(nil), pe.Errors...),
		})
	}
	cp.Events = append([]*PushEvent(nil), c.Events...)
	cp.baseEventCount = len(c.Events)
	cp.Objects = append([]Entity(nil), c.Objects...)
	return &cp
}

// Merge folds a delegate's shallow copy back into c: errors and events are
// concatenated, never overwritten. Only the events other accumulated since
// it was produced by Copy are appended, so two delegates each adding one
// event to their own Copy both survive the merge.
func (c *Context) Merge(other *Context) {
	if other == nil {
		return
	}
	c.Errors.Merge(other.Errors)
	if len(other.Events) > other.baseEventCount {
		c.Events = append(c.Events, other.Events[other.baseEventCount:]...)
	}
}

// AddEvent appends a generated push event to the context.
func (c *Context) AddEvent(action Action, entity Entity) {
	c.Events = append(c.Events, &PushEvent{Action: action, Entity: entity})
}

// Failed reports whether the context has accumulated any errors.
func (c *Context) Failed() bool {
	return !c.Errors.Empty()
}
