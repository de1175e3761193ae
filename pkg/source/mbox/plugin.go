package mbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

// Plugin implements the source plugin interface for mbox replay.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "mbox"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Replay forwarded banking notifications from an mbox file"
}

// RequiredScopes returns nil; mbox needs no OAuth.
func (p *Plugin) RequiredScopes() []string {
	return nil
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the mbox file",
			},
		},
		"required": []string{"path"},
	}
}

// PluginConfig is the JSON configuration of the mbox plugin.
type PluginConfig struct {
	Path string `json:"path"`
}

// NewSource creates a new mbox source instance.
func (p *Plugin) NewSource(_ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Source, error) {
	var cfg PluginConfig
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling mbox config: %w", err)
	}
	return New(cfg.Path, logger)
}
