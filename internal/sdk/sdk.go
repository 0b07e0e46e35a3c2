// Package sdk is the process-wide registry mapping an SDK identifier to a
// bundle of domain-model factories. Garuda never hard-codes a domain model;
// it is handed one at startup through this registry, the same way the
// original source resolves REST names through a generated SDK module.
package sdk

import (
	"sync"

	"github.com/dogild/garuda/internal/model"
)

// DefaultIdentifier is the one SDK identifier every deployment must
// register; Library.Resolve always looks rest names up in this bundle, and
// no request selects another.
const DefaultIdentifier = "default"

// EntityFactory constructs a fresh, zero-valued instance of one domain rest
// name, ready for FromDict to populate it.
type EntityFactory func() model.Entity

// Bundle is everything the core needs from one registered SDK: a factory
// for the root object (the authenticated principal's concrete type) and a
// resolver from REST name to entity factory.
type Bundle struct {
	RootObjectFactory EntityFactory
	Resolve           func(restName string) (EntityFactory, bool)
}

// Library is a registry of SDK bundles keyed by identifier.
type Library struct {
	mu      sync.RWMutex
	bundles map[string]*Bundle
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{bundles: make(map[string]*Bundle)}
}

// Register adds or replaces the bundle for identifier.
func (l *Library) Register(identifier string, bundle *Bundle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bundles[identifier] = bundle
}

// Bundle returns the bundle registered under identifier.
func (l *Library) Bundle(identifier string) (*Bundle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bundles[identifier]
	return b, ok
}

// Default returns the bundle registered under DefaultIdentifier.
func (l *Library) Default() (*Bundle, bool) {
	return l.Bundle(DefaultIdentifier)
}

// Resolve looks up restName in the default bundle. A false result means the
// caller should treat this as NOTFOUND.
func (l *Library) Resolve(restName string) (EntityFactory, bool) {
	b, ok := l.Default()
	if !ok {
		return nil, false
	}
	return b.Resolve(restName)
}

var (
	globalOnce sync.Once
	global     *Library
)

// Global returns the process-wide singleton library, mirroring
// plugins.Global()'s lazy-init pattern.
func Global() *Library {
	globalOnce.Do(func() {
		global = NewLibrary()
	})
	return global
}
