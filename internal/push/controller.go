// Package push is the Push Controller: it durably queues PushEvents per
// session in Redis lists at eventqueue:sessions:<uuid> and lets channels
// drain them with a blocking pop, grounded on
// original_source/tests/core/controllers/test_push_controller.py (queue key
// layout, blocking pop with timeout, flush-on-expiry) and the teacher's
// internal/sse/hub.go OnEvent per-subscriber filtered fan-out, generalized
// from an in-memory channel fan-out to a durable per-session Redis queue.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dogild/garuda/internal/model"
)

// SessionSource supplies the set of live sessions PushEvents fans out to.
// The core controller satisfies it with an adapter that calls the sessions
// controller's AllSessions, which scans Redis on every call.
type SessionSource interface {
	AllSessions() []*model.Session
}

// PermissionsChecker grants or denies a session READ visibility into an
// entity. Satisfied by *permissions.Controller.
type PermissionsChecker interface {
	IsPermitted(ctx context.Context, session *model.Session, entity model.Entity, action model.Action) bool
}

// Controller fans generated events out to every session permitted to see
// them and exposes a blocking per-session pop for channels that stream
// events back to clients.
type Controller struct {
	rdb         *redis.Client
	permissions PermissionsChecker
}

// NewController builds a push controller over rdb and the permissions
// controller used for read-visibility filtering.
func NewController(rdb *redis.Client, perms PermissionsChecker) *Controller {
	return &Controller{rdb: rdb, permissions: perms}
}

// PushEvents fans event out to every session in sessionSource that is
// permitted READ on the event's entity.
func (c *Controller) PushEvents(ctx context.Context, sessionSource SessionSource, event *model.PushEvent) error {
	payload, err := json.Marshal(event.ToDict())
	if err != nil {
		return fmt.Errorf("push: marshal event: %w", err)
	}

	for _, session := range sessionSource.AllSessions() {
		if !c.permissions.IsPermitted(ctx, session, event.Entity, model.ActionRead) {
			continue
		}
		if err := c.rdb.RPush(ctx, session.QueueKey(), payload).Err(); err != nil {
			return fmt.Errorf("push: rpush session %s: %w", session.UUID, err)
		}
	}
	return nil
}

// GetNextEvent blocks until an event is available for session, the timeout
// elapses (zero means block indefinitely, bounded only by ctx), or ctx is
// canceled.
func (c *Controller) GetNextEvent(ctx context.Context, session *model.Session, timeout time.Duration) (map[string]any, error) {
	res, err := c.rdb.BLPop(ctx, timeout, session.QueueKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("push: unexpected BLPOP reply shape")
	}

	var event map[string]any
	if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
		return nil, fmt.Errorf("push: unmarshal event: %w", err)
	}
	return event, nil
}

// IsEventQueueEmpty reports whether session's queue currently has no
// pending events.
func (c *Controller) IsEventQueueEmpty(ctx context.Context, session *model.Session) (bool, error) {
	n, err := c.rdb.LLen(ctx, session.QueueKey()).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Flush discards session uuid's entire pending queue, called when the
// sessions controller reports the session as expired.
func (c *Controller) Flush(ctx context.Context, uuid string) error {
	key := fmt.Sprintf("eventqueue:sessions:%s", uuid)
	return c.rdb.Del(ctx, key).Err()
}

// IsNotFound reports whether err is the "no event available" sentinel
// GetNextEvent returns on a BLPOP timeout.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
