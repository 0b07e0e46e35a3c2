package plugins

import (
	"log"
	"sync"
)

// Registry keeps one ordered slice per plugin variant. Registration order
// is dispatch order: storage/auth/permissions/logic controllers all try
// their registered plugins in the order they were added.
type Registry struct {
	mu sync.RWMutex

	core Core

	channels    []ChannelPlugin
	auth        []AuthenticationPlugin
	storage     []StorageProvider
	permissions []PermissionsPlugin
	logic       []LogicPlugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// BindCore sets the weak core back-reference handed to plugins on
// registration. Must be called before any Register* call that should be
// able to see a non-nil core.
func (r *Registry) BindCore(core Core) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.core = core
}

func (r *Registry) register(p Plugin, didRegister func()) {
	r.mu.Lock()
	core := r.core
	r.mu.Unlock()

	m := p.Manifest()
	log.Printf("plugins: registering %s/%s (%s)", m.Identifier, m.Name, m.Version)

	p.SetCore(core)
	p.WillRegister()
	didRegister()
	p.DidRegister()
}

// RegisterChannel adds a channel plugin.
func (r *Registry) RegisterChannel(p ChannelPlugin) {
	r.register(p, func() {
		r.mu.Lock()
		r.channels = append(r.channels, p)
		r.mu.Unlock()
	})
}

// RegisterAuthentication adds an authentication plugin.
func (r *Registry) RegisterAuthentication(p AuthenticationPlugin) {
	r.register(p, func() {
		r.mu.Lock()
		r.auth = append(r.auth, p)
		r.mu.Unlock()
	})
}

// RegisterStorage adds a storage plugin.
func (r *Registry) RegisterStorage(p StorageProvider) {
	r.register(p, func() {
		r.mu.Lock()
		r.storage = append(r.storage, p)
		r.mu.Unlock()
	})
}

// RegisterPermissions adds a permissions plugin.
func (r *Registry) RegisterPermissions(p PermissionsPlugin) {
	r.register(p, func() {
		r.mu.Lock()
		r.permissions = append(r.permissions, p)
		r.mu.Unlock()
	})
}

// RegisterLogic adds a logic plugin.
func (r *Registry) RegisterLogic(p LogicPlugin) {
	r.register(p, func() {
		r.mu.Lock()
		r.logic = append(r.logic, p)
		r.mu.Unlock()
	})
}

// Unregister removes p from whichever variant slice(s) it appears in,
// calling WillUnregister/DidUnregister and clearing its core reference.
func (r *Registry) Unregister(p Plugin) {
	p.WillUnregister()

	r.mu.Lock()
	r.channels = removeFrom(r.channels, p)
	r.auth = removeFrom(r.auth, p)
	r.storage = removeFrom(r.storage, p)
	r.permissions = removeFrom(r.permissions, p)
	r.logic = removeFrom(r.logic, p)
	r.mu.Unlock()

	p.DidUnregister()
	p.SetCore(nil) // drop the weak core reference
}

func removeFrom[T Plugin](slice []T, target Plugin) []T {
	out := slice[:0:0]
	for _, p := range slice {
		if Plugin(p) == target {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Channels returns the registered channel plugins in registration order.
func (r *Registry) Channels() []ChannelPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ChannelPlugin(nil), r.channels...)
}

// AuthProviders returns the registered authentication plugins in
// registration order.
func (r *Registry) AuthProviders() []AuthenticationPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]AuthenticationPlugin(nil), r.auth...)
}

// StorageProviders returns the registered storage plugins in registration
// order.
func (r *Registry) StorageProviders() []StorageProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]StorageProvider(nil), r.storage...)
}

// PermissionsPlugins returns the registered permissions plugins in
// registration order.
func (r *Registry) PermissionsPlugins() []PermissionsPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PermissionsPlugin(nil), r.permissions...)
}

// LogicPlugins returns the registered logic plugins in registration order.
func (r *Registry) LogicPlugins() []LogicPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LogicPlugin(nil), r.logic...)
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide singleton registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}
