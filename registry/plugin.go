package registry

import (
	"fmt"

	"github.com/nexus-tools/utac/adapter"
)

// Plugin is a lifecycle hook the registry dispatches to every adapter it
// already holds. OnInitialize must be idempotent: it may be called again
// for the same adapter if RegisterPlugin is invoked more than once.
type Plugin interface {
	Name() string
	Dependencies() []string
	OnInitialize(a *adapter.Adapter) error
}

// RegisterPlugin runs a dependency check against already-registered
// plugins, stores the plugin, and invokes OnInitialize for each existing
// adapter (§4.11). A single adapter's initialization failure is logged and
// skipped; it must never destabilize the other adapters or abort the
// plugin's own registration.
func (f *Framework) RegisterPlugin(p Plugin) error {
	f.mu.Lock()
	for _, dep := range p.Dependencies() {
		if _, ok := f.plugins[dep]; !ok {
			f.mu.Unlock()
			return fmt.Errorf("registering plugin %q: missing dependency %q", p.Name(), dep)
		}
	}
	f.plugins[p.Name()] = p
	entries := make([]*registeredEntry, 0, len(f.adapters))
	for _, e := range f.adapters {
		entries = append(entries, e)
	}
	f.mu.Unlock()

	for _, e := range entries {
		if err := p.OnInitialize(e.Adapter); err != nil {
			f.logger.Error("plugin initialization failed for adapter", map[string]interface{}{
				"plugin": p.Name(), "adapter": e.Descriptor.ID, "error": err.Error(),
			})
		}
	}
	return nil
}
