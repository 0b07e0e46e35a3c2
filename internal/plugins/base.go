package plugins

// Base implements the Plugin lifecycle with no-ops plus core-reference
// bookkeeping; concrete plugins embed it and override WillRegister/
// DidRegister/etc. only where they need the hook, the same "embed and
// override" shape the teacher's plugin variants use for their common
// Healthy/Close no-ops.
type Base struct {
	manifest Manifest
	core     Core
}

// NewBase returns a Base carrying the given manifest.
func NewBase(m Manifest) Base {
	return Base{manifest: m}
}

func (b *Base) Manifest() Manifest { return b.manifest }
func (b *Base) SetCore(c Core)     { b.core = c }
func (b *Base) Core() Core         { return b.core }
func (b *Base) WillRegister()      {}
func (b *Base) DidRegister()       {}
func (b *Base) WillUnregister()    {}
func (b *Base) DidUnregister()     {}
