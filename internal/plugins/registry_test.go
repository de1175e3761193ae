package plugins

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"testing"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

type stubPlugin struct {
	name   string
	scopes []string
}

func (p *stubPlugin) Name() string                 { return p.name }
func (p *stubPlugin) Description() string          { return "stub" }
func (p *stubPlugin) RequiredScopes() []string     { return p.scopes }
func (p *stubPlugin) ConfigSchema() map[string]any { return nil }

func (p *stubPlugin) NewSource(*http.Client, json.RawMessage, *slog.Logger) (api.Source, error) {
	return stubSource{}, nil
}

type stubSource struct{}

func (stubSource) Read(ctx context.Context, _ chan<- *api.Notification, _ <-chan api.Ack) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	for _, p := range []*stubPlugin{
		{name: "mbox"},
		{name: "gmail", scopes: []string{"b", "a", "b"}},
	} {
		if err := r.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.name, err)
		}
	}

	if err := r.Register(&stubPlugin{name: "mbox"}); err == nil {
		t.Error("expected an error for a duplicate plugin")
	}

	if got, want := r.Names(), []string{"gmail", "mbox"}; !slices.Equal(got, want) {
		t.Errorf("names: got %v, want %v", got, want)
	}

	scopes, err := r.Scopes("gmail")
	if err != nil {
		t.Fatalf("scopes: %v", err)
	}
	if want := []string{"a", "b"}; !slices.Equal(scopes, want) {
		t.Errorf("scopes: got %v, want %v", scopes, want)
	}

	if _, err := r.Create("amqp", nil, nil, nil); err == nil {
		t.Error("expected an error for an unknown plugin")
	}
	if src, err := r.Create("mbox", nil, nil, nil); err != nil || src == nil {
		t.Errorf("create: got %v, %v", src, err)
	}
}
