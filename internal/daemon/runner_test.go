package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArionMiles/moneytracker/internal/plugins"
	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/ingest"
)

type fakeSource struct {
	notifications []*api.Notification
	acked         chan string
	err           error
}

func (s *fakeSource) Read(ctx context.Context, out chan<- *api.Notification, ackChan <-chan api.Ack) error {
	for _, n := range s.notifications {
		out <- n
	}
	if s.err != nil {
		return s.err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ack := <-ackChan:
			s.acked <- ack.ID
		}
	}
}

type fakePlugin struct{ source *fakeSource }

func (p *fakePlugin) Name() string                 { return "fake" }
func (p *fakePlugin) Description() string          { return "fake source" }
func (p *fakePlugin) RequiredScopes() []string     { return nil }
func (p *fakePlugin) ConfigSchema() map[string]any { return nil }
func (p *fakePlugin) NewSource(*http.Client, json.RawMessage, *slog.Logger) (api.Source, error) {
	return p.source, nil
}

// echoWorker acknowledges every notification it receives.
type echoWorker struct{}

func (echoWorker) Run(ctx context.Context, in <-chan *api.Notification, ackChan chan<- api.Ack) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-in:
			ackChan <- api.Ack{ID: n.ID}
		}
	}
}

type countingRollover struct{ runs atomic.Int32 }

func (c *countingRollover) Run(ctx context.Context, _ time.Duration) error {
	c.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func newRunner(t *testing.T, src *fakeSource) *Runner {
	t.Helper()
	reg := plugins.NewRegistry()
	if err := reg.Register(&fakePlugin{source: src}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return New(reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRun_RoutesAcksAndStopsOnCancel(t *testing.T) {
	src := &fakeSource{
		notifications: []*api.Notification{{ID: "a"}, {ID: "b"}},
		acked:         make(chan string, 2),
	}
	r := newRunner(t, src)
	rollover := &countingRollover{}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, Config{Source: "fake", RolloverInterval: time.Hour},
			Components{Queue: ingest.NewQueue(4), Worker: echoWorker{}, Rollover: rollover})
	}()

	for _, want := range []string{"a", "b"} {
		select {
		case got := <-src.acked:
			if got != want {
				t.Errorf("ack: got %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for ack")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: got %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if rollover.runs.Load() != 1 {
		t.Errorf("rollover runs: got %d, want 1", rollover.runs.Load())
	}
}

func TestRun_SourceFailureStopsDaemon(t *testing.T) {
	boom := errors.New("boom")
	r := newRunner(t, &fakeSource{err: boom})

	err := r.Run(t.Context(), Config{Source: "fake", RolloverInterval: time.Hour},
		Components{Queue: ingest.NewQueue(1), Worker: echoWorker{}, Rollover: &countingRollover{}})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}

func TestRun_UnknownSource(t *testing.T) {
	r := newRunner(t, &fakeSource{})
	err := r.Run(t.Context(), Config{Source: "carrier-pigeon"}, Components{Queue: ingest.NewQueue(1), Worker: echoWorker{}})
	if err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestRun_WithoutSourceDrainsAcks(t *testing.T) {
	r := newRunner(t, &fakeSource{})
	q := ingest.NewQueue(200)
	for i := range 150 {
		if err := q.Offer(&api.Notification{ID: string(rune('a' + i%26))}); err != nil {
			t.Fatalf("offer: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, Config{}, Components{Queue: q, Worker: echoWorker{}}) }()

	deadline := time.After(5 * time.Second)
	for q.Len() > 0 {
		select {
		case <-deadline:
			t.Fatalf("queue not drained, %d left", q.Len())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: got %v, want nil", err)
	}
}
