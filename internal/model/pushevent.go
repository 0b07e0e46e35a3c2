package model

// PushEvent is an immutable record of a CREATE/UPDATE/DELETE that the push
// controller fans out to subscribed sessions.
type PushEvent struct {
	Action Action
	Entity Entity
}

// ToDict renders the wire shape of an event: {action, entity: {...}}.
func (e *PushEvent) ToDict() map[string]any {
	return map[string]any{
		"action": string(e.Action),
		"entity": e.Entity.ToDict(),
	}
}
