package sdk

import (
	"github.com/dogild/garuda/internal/model"
)

// Schema maps a rest name to the rest names of its children, generalizing
// the fixed principal/enterprise hierarchy the core and operations test
// fixtures hand-roll into a data-driven shape any deployment can configure
// without writing Go types.
type Schema map[string][]string

// GenericEntity is a schema-driven model.Entity: every field beyond the
// bookkeeping ones (id, owner, parent) lives in Data, so one type can stand
// in for an entire domain model. It exists so cmd/garuda has something real
// to register by default; a deployment with actual domain types registers
// its own Bundle instead and never touches this file.
type GenericEntity struct {
	schema     Schema
	restName   string
	id         string
	owner      string
	parentType string
	parentID   string
	Data       map[string]any
}

func (e *GenericEntity) RestName() string        { return e.restName }
func (e *GenericEntity) Identifier() string      { return e.id }
func (e *GenericEntity) SetIdentifier(id string) { e.id = id }
func (e *GenericEntity) Owner() string           { return e.owner }
func (e *GenericEntity) ParentType() string      { return e.parentType }
func (e *GenericEntity) ParentID() string        { return e.parentID }
func (e *GenericEntity) SetParent(restName, id string) {
	e.parentType, e.parentID = restName, id
}

func (e *GenericEntity) ChildrenRestNames() []string {
	return append([]string(nil), e.schema[e.restName]...)
}

func (e *GenericEntity) FetcherForRestName(name string) (model.Relationship, bool) {
	for _, child := range e.schema[e.restName] {
		if child == name {
			return model.Relationship{RestName: name}, true
		}
	}
	return model.Relationship{}, false
}

func (e *GenericEntity) ToDict() map[string]any {
	out := make(map[string]any, len(e.Data)+2)
	for k, v := range e.Data {
		out[k] = v
	}
	out["id"] = e.id
	out["owner"] = e.owner
	return out
}

func (e *GenericEntity) FromDict(d map[string]any) error {
	if e.Data == nil {
		e.Data = make(map[string]any, len(d))
	}
	for k, v := range d {
		switch k {
		case "id", "owner":
			// bookkeeping fields stay out of Data: id is set only through
			// SetIdentifier; owner is taken from d below, only while unset.
		default:
			e.Data[k] = v
		}
	}
	if owner, ok := d["owner"].(string); ok && e.owner == "" {
		e.owner = owner
	}
	return nil
}

func (e *GenericEntity) Validate() *model.ErrorList { return model.NewErrorList() }

func (e *GenericEntity) RestEquals(other model.Entity) bool {
	o, ok := other.(*GenericEntity)
	return ok && o.restName == e.restName && o.id == e.id
}

// NewReferenceBundle builds a Bundle over schema, rooted at rootRestName.
// Every rest name schema mentions (as a key or as a child) resolves to a
// GenericEntity factory; anything else reports false, matching the NOTFOUND
// path an unknown rest name takes in the operations controller.
func NewReferenceBundle(rootRestName string, schema Schema) *Bundle {
	known := map[string]bool{rootRestName: true}
	for parent, children := range schema {
		known[parent] = true
		for _, c := range children {
			known[c] = true
		}
	}

	factory := func(restName string) EntityFactory {
		return func() model.Entity {
			return &GenericEntity{schema: schema, restName: restName, Data: map[string]any{}}
		}
	}

	return &Bundle{
		RootObjectFactory: factory(rootRestName),
		Resolve: func(restName string) (EntityFactory, bool) {
			if !known[restName] {
				return nil, false
			}
			return factory(restName), true
		},
	}
}
