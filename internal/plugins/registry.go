// Package plugins provides a registry of notification source plugins.
package plugins

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

// SourcePlugin defines the interface for notification source plugins.
type SourcePlugin interface {
	// Name returns the plugin name (e.g., "gmail", "mbox").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	// ConfigSchema returns a JSON schema describing the plugin's configuration.
	ConfigSchema() map[string]any
	// NewSource creates a new source instance with the given config.
	// httpClient is nil for plugins that need no OAuth scopes.
	NewSource(httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Source, error)
}

// Registry manages available source plugins.
type Registry struct {
	sources map[string]SourcePlugin
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]SourcePlugin)}
}

// Register registers a source plugin.
func (r *Registry) Register(plugin SourcePlugin) error {
	name := plugin.Name()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source plugin %q already registered", name)
	}
	r.sources[name] = plugin
	return nil
}

// Get returns a source plugin by name.
func (r *Registry) Get(name string) (SourcePlugin, error) {
	plugin, exists := r.sources[name]
	if !exists {
		return nil, fmt.Errorf("source plugin %q not found (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return plugin, nil
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// List returns all registered plugins sorted by name.
func (r *Registry) List() []SourcePlugin {
	plugins := make([]SourcePlugin, 0, len(r.sources))
	for _, name := range r.Names() {
		plugins = append(plugins, r.sources[name])
	}
	return plugins
}

// Scopes returns the OAuth scopes required by the named plugin.
func (r *Registry) Scopes(name string) ([]string, error) {
	plugin, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	scopes := slices.Clone(plugin.RequiredScopes())
	slices.Sort(scopes)
	return slices.Compact(scopes), nil
}

// Create creates a source instance from a plugin.
func (r *Registry) Create(name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Source, error) {
	plugin, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewSource(httpClient, config, logger)
}
