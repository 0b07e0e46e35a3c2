package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is the authenticated principal's handle, persisted in the shared
// store at RedisKey() with a TTL; a missing key is equivalent to expiry.
type Session struct {
	UUID       string        `json:"uuid"`
	GarudaUUID string        `json:"garuda_uuid"`
	RootObject Entity        `json:"-"`
	RootData   map[string]any `json:"root_object"`
	RootRest   string        `json:"root_rest_name"`
	TTL        time.Duration `json:"-"`
}

// NewSession allocates a session for a freshly authenticated root object.
func NewSession(garudaUUID string, root Entity, ttl time.Duration) *Session {
	return &Session{
		UUID:       uuid.NewString(),
		GarudaUUID: garudaUUID,
		RootObject: root,
		TTL:        ttl,
	}
}

// RedisKey is the key the session is stored under.
func (s *Session) RedisKey() string {
	return fmt.Sprintf("sessions:%s", s.UUID)
}

// QueueKey is the key the push controller's durable event queue uses for
// this session.
func (s *Session) QueueKey() string {
	return fmt.Sprintf("eventqueue:sessions:%s", s.UUID)
}

// MarshalJSON serializes the session, flattening the root object via ToDict
// alongside its rest name so GetSession can rehydrate the correct type.
func (s *Session) MarshalJSON() ([]byte, error) {
	type alias Session
	out := alias(*s)
	if s.RootObject != nil {
		out.RootData = s.RootObject.ToDict()
		out.RootRest = s.RootObject.RestName()
	}
	return json.Marshal(out)
}
