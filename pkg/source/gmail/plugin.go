package gmail

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

// DefaultQuery selects unread notification e-mails forwarded from the phone.
const DefaultQuery = "is:unread label:notifications"

// Plugin implements the source plugin interface for Gmail.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "gmail"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Read forwarded banking notifications from Gmail"
}

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *Plugin) RequiredScopes() []string {
	return []string{
		gmailapi.GmailReadonlyScope,
		gmailapi.GmailModifyScope,
	}
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"queries": map[string]any{
				"type":        "array",
				"description": "Gmail search queries selecting notification e-mails",
				"items":       map[string]any{"type": "string"},
				"default":     []string{DefaultQuery},
			},
			"interval": map[string]any{
				"type":        "integer",
				"description": "Interval in seconds between polls (default: 30)",
				"default":     30,
			},
		},
	}
}

// PluginConfig is the JSON configuration of the Gmail plugin.
type PluginConfig struct {
	Queries  []string `json:"queries,omitempty"`
	Interval int      `json:"interval,omitempty"` // in seconds
}

// NewSource creates a new Gmail source instance.
func (p *Plugin) NewSource(httpClient *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Source, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("gmail source requires an authorized HTTP client")
	}
	cfg, err := parseConfig(configData)
	if err != nil {
		return nil, err
	}
	return New(httpClient, cfg, logger)
}

func parseConfig(data json.RawMessage) (Config, error) {
	var pc PluginConfig
	if len(data) > 0 {
		if err := json.Unmarshal(data, &pc); err != nil {
			return Config{}, fmt.Errorf("unmarshaling gmail config: %w", err)
		}
	}
	if len(pc.Queries) == 0 {
		pc.Queries = []string{DefaultQuery}
	}
	if pc.Interval < 0 {
		return Config{}, fmt.Errorf("interval must not be negative, got %d", pc.Interval)
	}
	return Config{
		Queries:  pc.Queries,
		Interval: time.Duration(pc.Interval) * time.Second,
	}, nil
}
